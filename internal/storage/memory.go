package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mreyes/tradereflect/pkg/types"
	"go.uber.org/zap"
)

// MemoryStore implements Store with in-process maps. Used for development
// runs without a database and heavily in tests, where it doubles as the
// simplest correct model of the claim semantics.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	fills    map[int64]types.Fill
	byTrade  map[string]int64 // accountID + "\x00" + tradeID -> fill ID
	reviews  map[int64]types.Review
	accounts map[string]types.Account
	logger   *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		fills:    make(map[int64]types.Fill),
		byTrade:  make(map[string]int64),
		reviews:  make(map[int64]types.Review),
		accounts: make(map[string]types.Account),
		logger:   logger,
	}
}

func dedupKey(accountID, tradeID string) string {
	return accountID + "\x00" + tradeID
}

// PersistIfAbsent inserts the fill unless (account_id, trade_id) exists.
func (m *MemoryStore) PersistIfAbsent(_ context.Context, fill *types.Fill) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupKey(fill.AccountID, fill.TradeID)
	if _, exists := m.byTrade[key]; exists {
		return false, nil
	}

	m.nextID++
	fill.ID = m.nextID
	if fill.IngestedAt.IsZero() {
		fill.IngestedAt = time.Now().UTC()
	}

	m.fills[fill.ID] = *fill
	m.byTrade[key] = fill.ID

	return true, nil
}

// GetFill returns the fill with the given surrogate ID, or (nil, nil).
func (m *MemoryStore) GetFill(_ context.Context, fillID int64) (*types.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fill, ok := m.fills[fillID]
	if !ok {
		return nil, nil
	}

	return &fill, nil
}

// ListByAccount returns an account's fills, newest execution first.
func (m *MemoryStore) ListByAccount(_ context.Context, accountID string) ([]types.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fills []types.Fill
	for _, fill := range m.fills {
		if fill.AccountID == accountID {
			fills = append(fills, fill)
		}
	}

	sort.Slice(fills, func(i, j int) bool {
		return fills[i].ExecutedAt > fills[j].ExecutedAt
	})

	return fills, nil
}

// ListSince returns up to limit fills newer than afterID, newest first.
func (m *MemoryStore) ListSince(_ context.Context, accountID string, afterID int64, limit int) ([]types.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fills []types.Fill
	for _, fill := range m.fills {
		if fill.AccountID == accountID && fill.ID > afterID {
			fills = append(fills, fill)
		}
	}

	sort.Slice(fills, func(i, j int) bool {
		return fills[i].ExecutedAt > fills[j].ExecutedAt
	})

	if limit > 0 && len(fills) > limit {
		fills = fills[:limit]
	}

	return fills, nil
}

// Claim marks the fill's review as in progress; single winner per fill.
func (m *MemoryStore) Claim(_ context.Context, fillID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reviews[fillID]; exists {
		return false, nil
	}

	m.reviews[fillID] = types.Review{
		FillID:    fillID,
		ClaimedAt: time.Now().UTC(),
	}

	return true, nil
}

// Write resolves a previously claimed review. Refuses to overwrite.
func (m *MemoryStore) Write(_ context.Context, fillID int64, userThought *string, text string, kind types.ReviewKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	review, exists := m.reviews[fillID]
	if !exists || review.Resolved {
		return fmt.Errorf("review for fill %d not claimed or already resolved", fillID)
	}

	now := time.Now().UTC()
	review.UserThought = userThought
	review.Text = text
	review.Kind = kind
	review.Resolved = true
	review.ResolvedAt = &now
	m.reviews[fillID] = review

	return nil
}

// Get returns the fill's review, or (nil, nil) when no claim exists.
func (m *MemoryStore) Get(_ context.Context, fillID int64) (*types.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	review, exists := m.reviews[fillID]
	if !exists {
		return nil, nil
	}

	return &review, nil
}

// UpsertAccount registers or updates an account's credentials.
func (m *MemoryStore) UpsertAccount(_ context.Context, account types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[account.ID] = account
	return nil
}

// GetAccount returns the account with the given ID, or (nil, nil).
func (m *MemoryStore) GetAccount(_ context.Context, accountID string) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return nil, nil
	}

	return &account, nil
}

// ListAccounts returns every tracked account, ordered by ID.
func (m *MemoryStore) ListAccounts(_ context.Context) ([]types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]types.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		accounts = append(accounts, account)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})

	return accounts, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	if m.logger != nil {
		m.logger.Info("closing-memory-store")
	}
	return nil
}
