package storage

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/mreyes/tradereflect/internal/testutil"
	"github.com/mreyes/tradereflect/pkg/types"
)

func TestPersistIfAbsentDedup(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	fill := testutil.CreateTestFill("acct-1", "T1")
	inserted, err := store.PersistIfAbsent(ctx, &fill)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if !inserted {
		t.Fatal("expected first persist to insert")
	}
	if fill.ID == 0 {
		t.Fatal("expected surrogate ID to be assigned on insert")
	}
	if fill.IngestedAt.IsZero() {
		t.Fatal("expected ingested-at to be stamped on insert")
	}

	// Same trade observed again by an overlapping window.
	dup := testutil.CreateTestFill("acct-1", "T1")
	inserted, err = store.PersistIfAbsent(ctx, &dup)
	if err != nil {
		t.Fatalf("persist duplicate: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate (account, trade) to be skipped")
	}

	// Same trade ID under a different account is a different fill.
	other := testutil.CreateTestFill("acct-2", "T1")
	inserted, err = store.PersistIfAbsent(ctx, &other)
	if err != nil {
		t.Fatalf("persist other account: %v", err)
	}
	if !inserted {
		t.Fatal("expected same trade ID under another account to insert")
	}
}

func TestGetFillAbsent(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())

	fill, err := store.GetFill(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fill != nil {
		t.Fatalf("expected nil for unknown fill, got %+v", fill)
	}
}

func TestListByAccountOrdering(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	for _, fill := range testutil.CreateTestFills("acct-1", 3) {
		f := fill
		if _, err := store.PersistIfAbsent(ctx, &f); err != nil {
			t.Fatalf("persist: %v", err)
		}
	}
	stray := testutil.CreateTestFill("acct-2", "X1")
	if _, err := store.PersistIfAbsent(ctx, &stray); err != nil {
		t.Fatalf("persist stray: %v", err)
	}

	fills, err := store.ListByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(fills))
	}
	for i := 1; i < len(fills); i++ {
		if fills[i-1].ExecutedAt < fills[i].ExecutedAt {
			t.Fatal("expected newest execution first")
		}
	}
}

func TestListSince(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	var ids []int64
	for _, fill := range testutil.CreateTestFills("acct-1", 5) {
		f := fill
		if _, err := store.PersistIfAbsent(ctx, &f); err != nil {
			t.Fatalf("persist: %v", err)
		}
		ids = append(ids, f.ID)
	}

	fills, err := store.ListSince(ctx, "acct-1", ids[2], 10)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills after id %d, got %d", ids[2], len(fills))
	}
	for _, fill := range fills {
		if fill.ID <= ids[2] {
			t.Fatalf("fill %d should have been excluded", fill.ID)
		}
	}

	limited, err := store.ListSince(ctx, "acct-1", 0, 2)
	if err != nil {
		t.Fatalf("list since limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(limited))
	}
}

func TestClaimSingleWinner(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, 1)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", winners)
	}
}

func TestWriteRequiresClaim(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	err := store.Write(ctx, 1, nil, "text", types.ReviewKindAuto)
	if err == nil {
		t.Fatal("expected write without claim to fail")
	}

	if _, err := store.Claim(ctx, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	thought := "momentum entry"
	err = store.Write(ctx, 1, &thought, "solid entry on a clean breakout", types.ReviewKindUser)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	review, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if review == nil || !review.Resolved {
		t.Fatalf("expected resolved review, got %+v", review)
	}
	if review.Kind != types.ReviewKindUser {
		t.Fatalf("expected user kind, got %q", review.Kind)
	}
	if review.UserThought == nil || *review.UserThought != thought {
		t.Fatal("expected user thought to be stored")
	}
	if review.ResolvedAt == nil {
		t.Fatal("expected resolved-at to be stamped")
	}

	// Resolution is final.
	err = store.Write(ctx, 1, nil, "other", types.ReviewKindAuto)
	if err == nil {
		t.Fatal("expected second write to fail")
	}
}

func TestGetReviewStates(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	review, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if review != nil {
		t.Fatal("expected nil for unclaimed fill")
	}

	if _, err := store.Claim(ctx, 7); err != nil {
		t.Fatalf("claim: %v", err)
	}

	review, err = store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get after claim: %v", err)
	}
	if review == nil {
		t.Fatal("expected claimed review")
	}
	if review.Resolved {
		t.Fatal("expected claimed-but-unresolved review")
	}
	if review.ClaimedAt.IsZero() {
		t.Fatal("expected claimed-at to be stamped")
	}
}

func TestAccountRoundTrip(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	absent, err := store.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if absent != nil {
		t.Fatal("expected nil for unknown account")
	}

	if err := store.UpsertAccount(ctx, testutil.CreateTestAccount("acct-2")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertAccount(ctx, testutil.CreateTestAccount("acct-1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Upsert replaces credentials in place.
	rotated := testutil.CreateTestAccount("acct-1")
	rotated.APIKey = "rotated-key"
	if err := store.UpsertAccount(ctx, rotated); err != nil {
		t.Fatalf("upsert rotated: %v", err)
	}

	account, err := store.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account == nil || account.APIKey != "rotated-key" {
		t.Fatalf("expected rotated credentials, got %+v", account)
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].ID != "acct-1" || accounts[1].ID != "acct-2" {
		t.Fatalf("expected accounts ordered by ID, got %v", accounts)
	}
}
