package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mreyes/tradereflect/internal/events"
	"github.com/mreyes/tradereflect/internal/storage"
	"github.com/mreyes/tradereflect/pkg/types"
	"go.uber.org/zap"
)

// Gateway fetches an account's fills executed inside a time window.
type Gateway interface {
	FetchFills(ctx context.Context, account types.Account, start, end time.Time) ([]types.Fill, error)
}

// Scheduler receives each newly persisted fill.
type Scheduler interface {
	Schedule(fill types.Fill)
}

// accountState is the advisory per-account polling record. It only narrows
// the next query window; the (account_id, trade_id) dedup in the fill store
// is what guarantees correctness when windows overlap or are recomputed.
type accountState struct {
	lastWindowEnd time.Time
	backoffUntil  time.Time
}

// Poller sweeps every tracked account on a fixed cadence, persists fills
// idempotently, and hands genuinely new fills to the review scheduler.
// Accounts are independent: one account's failure never blocks the others.
type Poller struct {
	interval    time.Duration
	lookback    time.Duration
	backfill    time.Duration
	authBackoff time.Duration
	accounts    storage.AccountStore
	fills       storage.FillStore
	gateway     Gateway
	scheduler   Scheduler
	events      events.Publisher
	logger      *zap.Logger

	mu     sync.Mutex
	states map[string]accountState
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // poll cadence
	Lookback    time.Duration // steady-state window length
	Backfill    time.Duration // window length for a never-seen account
	AuthBackoff time.Duration // how long to skip an account after auth failure
	Accounts    storage.AccountStore
	Fills       storage.FillStore
	Gateway     Gateway
	Scheduler   Scheduler
	Events      events.Publisher
	Logger      *zap.Logger
}

// New creates a new ingestion poller.
func New(cfg *Config) *Poller {
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Poller{
		interval:    cfg.Interval,
		lookback:    cfg.Lookback,
		backfill:    cfg.Backfill,
		authBackoff: cfg.AuthBackoff,
		accounts:    cfg.Accounts,
		fills:       cfg.Fills,
		gateway:     cfg.Gateway,
		scheduler:   cfg.Scheduler,
		events:      publisher,
		logger:      cfg.Logger,
		states:      make(map[string]accountState),
	}
}

// Run starts the polling loop and blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("ingestion-poller-starting",
		zap.Duration("interval", p.interval),
		zap.Duration("lookback", p.lookback),
		zap.Duration("backfill", p.backfill))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial sweep
	err := p.poll(ctx)
	if err != nil {
		p.logger.Error("initial-poll-failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingestion-poller-stopping")
			return ctx.Err()
		case <-ticker.C:
			err := p.poll(ctx)
			if err != nil {
				p.logger.Error("poll-failed", zap.Error(err))
			}
		}
	}
}

// poll runs one sweep across all tracked accounts, concurrently.
func (p *Poller) poll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		PollDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		PollErrorsTotal.Inc()
		return fmt.Errorf("list accounts: %w", err)
	}

	now := time.Now()

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account types.Account) {
			defer wg.Done()
			p.pollAccount(ctx, account, now)
		}(account)
	}
	wg.Wait()

	p.logger.Debug("poll-cycle-complete",
		zap.Int("accounts", len(accounts)),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// PollAccountOnce runs one fetch-and-persist pass for a single account over
// [start, end). Used by the backfill command; returns the number of newly
// persisted fills. New fills are handed to the scheduler when one is wired.
func (p *Poller) PollAccountOnce(ctx context.Context, account types.Account, start, end time.Time) (int, error) {
	fills, err := p.gateway.FetchFills(ctx, account, start, end)
	if err != nil {
		return 0, err
	}

	return p.persistFills(ctx, account.ID, fills), nil
}

func (p *Poller) pollAccount(ctx context.Context, account types.Account, now time.Time) {
	state := p.state(account.ID)

	if now.Before(state.backoffUntil) {
		p.logger.Debug("account-skipped-auth-backoff",
			zap.String("account-id", account.ID),
			zap.Time("backoff-until", state.backoffUntil))
		return
	}

	start, end := p.window(state, now)

	fills, err := p.gateway.FetchFills(ctx, account, start, end)
	if err != nil {
		var authErr *types.AuthError
		if errors.As(err, &authErr) {
			AuthFailuresTotal.Inc()
			p.setState(account.ID, accountState{
				lastWindowEnd: state.lastWindowEnd,
				backoffUntil:  now.Add(p.authBackoff),
			})
			p.logger.Warn("account-auth-failed-backing-off",
				zap.String("account-id", account.ID),
				zap.Duration("backoff", p.authBackoff),
				zap.Error(err))
			return
		}

		// Transient; retried next cycle, other accounts unaffected.
		PollErrorsTotal.Inc()
		p.logger.Error("account-fetch-failed",
			zap.String("account-id", account.ID),
			zap.Error(err))
		return
	}

	newCount := p.persistFills(ctx, account.ID, fills)

	p.setState(account.ID, accountState{lastWindowEnd: end})

	if newCount > 0 {
		p.logger.Info("new-fills-ingested",
			zap.String("account-id", account.ID),
			zap.Int("new", newCount),
			zap.Int("fetched", len(fills)))
	}
}

// persistFills persists each fill and schedules the genuinely new ones.
// Persist-then-schedule ordering guarantees the scheduler never sees a fill
// the store doesn't know about.
func (p *Poller) persistFills(ctx context.Context, accountID string, fills []types.Fill) int {
	newCount := 0
	for i := range fills {
		fill := fills[i]

		inserted, err := p.fills.PersistIfAbsent(ctx, &fill)
		if err != nil {
			p.logger.Error("fill-persist-failed",
				zap.String("account-id", accountID),
				zap.String("trade-id", fill.TradeID),
				zap.Error(err))
			continue
		}

		if !inserted {
			// Overlapping windows re-observe known fills constantly.
			DuplicateFillsTotal.Inc()
			continue
		}

		FillsIngestedTotal.Inc()
		newCount++

		if p.scheduler != nil {
			p.scheduler.Schedule(fill)
		}
		p.events.Publish(ctx, events.NewFillIngested(&fill))
	}

	return newCount
}

// window computes the query window for one account. A never-seen account
// gets the large backfill lookback; afterwards the advisory last window end
// narrows the default lookback when it is more recent.
func (p *Poller) window(state accountState, now time.Time) (time.Time, time.Time) {
	if state.lastWindowEnd.IsZero() {
		return now.Add(-p.backfill), now
	}

	start := now.Add(-p.lookback)
	if state.lastWindowEnd.After(start) {
		start = state.lastWindowEnd
	}

	return start, now
}

func (p *Poller) state(accountID string) accountState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[accountID]
}

func (p *Poller) setState(accountID string, state accountState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[accountID] = state
}
