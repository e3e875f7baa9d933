package storage

import (
	"context"

	"github.com/mreyes/tradereflect/pkg/types"
)

// FillStore is the durable, deduplicated record of executed trades.
// Fills are append-only: no update or delete is exposed.
type FillStore interface {
	// PersistIfAbsent inserts the fill only if (account_id, trade_id) is not
	// already present. Returns whether the insert happened so callers can
	// distinguish "genuinely new" (triggers scheduling) from "already known"
	// (steady-state no-op). On insert the fill's surrogate ID is populated.
	PersistIfAbsent(ctx context.Context, fill *types.Fill) (inserted bool, err error)

	// GetFill returns the fill with the given surrogate ID, or (nil, nil) if
	// it does not exist.
	GetFill(ctx context.Context, fillID int64) (*types.Fill, error)

	// ListByAccount returns an account's fills, newest execution first.
	ListByAccount(ctx context.Context, accountID string) ([]types.Fill, error)

	// ListSince returns up to limit fills with surrogate ID greater than
	// afterID, newest execution first. Used for incremental UI polling.
	ListSince(ctx context.Context, accountID string, afterID int64, limit int) ([]types.Fill, error)
}

// ReviewStore is the durable, at-most-one-per-fill record of a reflection.
//
// Resolution has two independent trigger sources (user submission, elapsed
// deadline) that must not both succeed. The store, not the scheduler, is the
// single source of truth for "has this fill's review been decided": Claim is
// atomic and returns true for exactly one caller per fill.
type ReviewStore interface {
	// Claim atomically marks a fill as "review in progress". Returns true
	// only for the caller that wins the race; everyone else gets false and
	// must not write a review.
	Claim(ctx context.Context, fillID int64) (claimed bool, err error)

	// Write persists the review. May only be called after a successful Claim.
	Write(ctx context.Context, fillID int64, userThought *string, text string, kind types.ReviewKind) error

	// Get returns the fill's review, or (nil, nil) when no claim exists. A
	// claimed-but-unresolved review is returned with Resolved=false.
	Get(ctx context.Context, fillID int64) (*types.Review, error)
}

// AccountStore holds the exchange credentials of tracked accounts. The
// poller enumerates registered accounts at the start of every cycle.
type AccountStore interface {
	UpsertAccount(ctx context.Context, account types.Account) error
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)
	ListAccounts(ctx context.Context) ([]types.Account, error)
}

// Store bundles all three stores behind one connection.
type Store interface {
	FillStore
	ReviewStore
	AccountStore

	// Close closes the underlying connection.
	Close() error
}
