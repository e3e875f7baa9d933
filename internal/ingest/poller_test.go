package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mreyes/tradereflect/internal/events"
	"github.com/mreyes/tradereflect/internal/storage"
	"github.com/mreyes/tradereflect/internal/testutil"
	"github.com/mreyes/tradereflect/pkg/types"
)

type pollerFixture struct {
	store     *storage.MemoryStore
	gateway   *testutil.MockGateway
	scheduler *testutil.MockScheduler
	publisher *testutil.CapturePublisher
	poller    *Poller
}

func newPollerFixture(t *testing.T, gateway *testutil.MockGateway) *pollerFixture {
	t.Helper()

	store := storage.NewMemoryStore(zap.NewNop())
	scheduler := &testutil.MockScheduler{}
	publisher := &testutil.CapturePublisher{}

	poller := New(&Config{
		Interval:    time.Second,
		Lookback:    5 * time.Minute,
		Backfill:    24 * time.Hour,
		AuthBackoff: 10 * time.Minute,
		Accounts:    store,
		Fills:       store,
		Gateway:     gateway,
		Scheduler:   scheduler,
		Events:      publisher,
		Logger:      zap.NewNop(),
	})

	return &pollerFixture{
		store:     store,
		gateway:   gateway,
		scheduler: scheduler,
		publisher: publisher,
		poller:    poller,
	}
}

func (f *pollerFixture) register(t *testing.T, accountID string) {
	t.Helper()
	err := f.store.UpsertAccount(context.Background(), testutil.CreateTestAccount(accountID))
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
}

func TestPollSchedulesNewFillsOnce(t *testing.T) {
	// The gateway replays the same trades every cycle, like overlapping
	// lookback windows do.
	gateway := &testutil.MockGateway{Fills: testutil.CreateTestFills("acct-1", 3)}
	f := newPollerFixture(t, gateway)
	f.register(t, "acct-1")
	ctx := context.Background()

	if err := f.poller.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if err := f.poller.poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	scheduled := f.scheduler.Scheduled()
	if len(scheduled) != 3 {
		t.Fatalf("expected 3 scheduled fills, got %d", len(scheduled))
	}
	for _, fill := range scheduled {
		if fill.ID == 0 {
			t.Fatal("scheduled fill must already carry its store ID")
		}
	}

	ingested := f.publisher.ByType(events.TypeFillIngested)
	if len(ingested) != 3 {
		t.Fatalf("expected 3 fill.ingested events, got %d", len(ingested))
	}

	fills, err := f.store.ListByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list fills: %v", err)
	}
	if len(fills) != 3 {
		t.Fatalf("expected 3 persisted fills, got %d", len(fills))
	}
}

func TestPollAccountFailureDoesNotBlockOthers(t *testing.T) {
	gateway := &testutil.MockGateway{
		FetchFunc: func(_ context.Context, account types.Account, _, _ time.Time) ([]types.Fill, error) {
			if account.ID == "acct-down" {
				return nil, &types.TransientError{Op: "user-trades", Message: "502 from upstream"}
			}
			return []types.Fill{testutil.CreateTestFill(account.ID, "T1")}, nil
		},
	}
	f := newPollerFixture(t, gateway)
	f.register(t, "acct-down")
	f.register(t, "acct-up")
	ctx := context.Background()

	if err := f.poller.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	fills, err := f.store.ListByAccount(ctx, "acct-up")
	if err != nil {
		t.Fatalf("list fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("healthy account should have ingested, got %d fills", len(fills))
	}

	down, err := f.store.ListByAccount(ctx, "acct-down")
	if err != nil {
		t.Fatalf("list fills: %v", err)
	}
	if len(down) != 0 {
		t.Fatalf("failing account should have no fills, got %d", len(down))
	}
}

func TestPollTransientFailureRetriesNextCycle(t *testing.T) {
	calls := 0
	gateway := &testutil.MockGateway{
		FetchFunc: func(_ context.Context, account types.Account, _, _ time.Time) ([]types.Fill, error) {
			calls++
			if calls == 1 {
				return nil, &types.TransientError{Op: "user-trades", Message: "timeout"}
			}
			return []types.Fill{testutil.CreateTestFill(account.ID, "T1")}, nil
		},
	}
	f := newPollerFixture(t, gateway)
	f.register(t, "acct-1")
	ctx := context.Background()

	if err := f.poller.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if err := f.poller.poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	fills, err := f.store.ListByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected the retry cycle to ingest, got %d fills", len(fills))
	}
}

func TestPollAuthFailureBacksOffAccount(t *testing.T) {
	gateway := &testutil.MockGateway{
		FetchFunc: func(context.Context, types.Account, time.Time, time.Time) ([]types.Fill, error) {
			return nil, &types.AuthError{AccountID: "acct-1", Code: -2015, Message: "invalid api key"}
		},
	}
	f := newPollerFixture(t, gateway)
	f.register(t, "acct-1")
	ctx := context.Background()

	if err := f.poller.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if err := f.poller.poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	// First cycle hits the auth error; the backoff skips the second cycle
	// entirely.
	if got := len(f.gateway.Calls()); got != 1 {
		t.Fatalf("expected 1 gateway call before backoff, got %d", got)
	}
}

func TestWindowBackfillThenNarrow(t *testing.T) {
	f := newPollerFixture(t, &testutil.MockGateway{})
	now := time.Now()

	// Never-seen account gets the full backfill window.
	start, end := f.poller.window(accountState{}, now)
	if !end.Equal(now) {
		t.Fatal("window must end now")
	}
	if got := end.Sub(start); got != 24*time.Hour {
		t.Fatalf("expected 24h backfill window, got %v", got)
	}

	// A recent last window end narrows the steady-state lookback.
	last := now.Add(-time.Minute)
	start, _ = f.poller.window(accountState{lastWindowEnd: last}, now)
	if !start.Equal(last) {
		t.Fatalf("expected window to start at last end, got %v", start)
	}

	// A stale last window end never widens past the lookback.
	stale := now.Add(-time.Hour)
	start, _ = f.poller.window(accountState{lastWindowEnd: stale}, now)
	if got := now.Sub(start); got != 5*time.Minute {
		t.Fatalf("expected lookback-bounded window, got %v", got)
	}
}

func TestPollAccountOnce(t *testing.T) {
	gateway := &testutil.MockGateway{Fills: testutil.CreateTestFills("acct-1", 2)}
	f := newPollerFixture(t, gateway)
	ctx := context.Background()

	account := testutil.CreateTestAccount("acct-1")
	end := time.Now()
	start := end.Add(-12 * time.Hour)

	imported, err := f.poller.PollAccountOnce(ctx, account, start, end)
	if err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if imported != 2 {
		t.Fatalf("expected 2 imported fills, got %d", imported)
	}

	// Re-running the same window is a no-op.
	imported, err = f.poller.PollAccountOnce(ctx, account, start, end)
	if err != nil {
		t.Fatalf("second poll once: %v", err)
	}
	if imported != 0 {
		t.Fatalf("expected re-run to import nothing, got %d", imported)
	}

	calls := gateway.Calls()
	if len(calls) != 2 || !calls[0].Start.Equal(start) || !calls[0].End.Equal(end) {
		t.Fatalf("unexpected gateway calls %+v", calls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newPollerFixture(t, &testutil.MockGateway{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.poller.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}
