package review

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mreyes/tradereflect/internal/events"
	"github.com/mreyes/tradereflect/internal/storage"
	"github.com/mreyes/tradereflect/pkg/types"
	"go.uber.org/zap"
)

// ErrFillNotFound is returned by Submit when the fill id is unknown.
var ErrFillNotFound = errors.New("fill not found")

// Generator produces reflection text for a fill. userThought is nil on the
// timeout path.
type Generator interface {
	Generate(ctx context.Context, fill *types.Fill, userThought *string) (string, error)
}

// Scheduler resolves each newly ingested fill to exactly one review.
//
// Per fill it runs a deadline timer and races it against an external user
// submission. The two paths contend only through the review store's Claim,
// which has a single winner; the loser no-ops. Losing the claim is the
// expected outcome for one side and is never treated as an error.
type Scheduler struct {
	deadline     time.Duration
	maxAttempts  int
	retryBackoff time.Duration
	fills        storage.FillStore
	reviews      storage.ReviewStore
	generator    Generator
	events       events.Publisher
	logger       *zap.Logger
	ctx          context.Context
	wg           sync.WaitGroup
}

// Config holds scheduler configuration.
type Config struct {
	Deadline     time.Duration // wait before auto-resolving an unreviewed fill
	MaxAttempts  int           // generation attempts before permanent failure
	RetryBackoff time.Duration // initial backoff between generation attempts
	FillStore    storage.FillStore
	ReviewStore  storage.ReviewStore
	Generator    Generator
	Events       events.Publisher
	Logger       *zap.Logger
}

// New creates a new review scheduler.
func New(cfg *Config) *Scheduler {
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Scheduler{
		deadline:     cfg.Deadline,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
		fills:        cfg.FillStore,
		reviews:      cfg.ReviewStore,
		generator:    cfg.Generator,
		events:       publisher,
		logger:       cfg.Logger,
		ctx:          context.Background(),
	}
}

// Start stores the lifecycle context used by deadline timers and by
// post-claim resolution. Until called, the scheduler runs against
// context.Background and timers never observe shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	s.logger.Info("review-scheduler-starting",
		zap.Duration("deadline", s.deadline),
		zap.Int("max-generation-attempts", s.maxAttempts))
	return nil
}

// Schedule starts the deadline timer for a newly ingested fill. Callers must
// only pass fills the store reported as freshly inserted, which makes one
// timer per fill even when overlapping poll windows observe the same trade.
func (s *Scheduler) Schedule(fill types.Fill) {
	s.wg.Add(1)
	PendingTimers.Inc()

	go func() {
		defer s.wg.Done()
		defer PendingTimers.Dec()

		timer := time.NewTimer(s.deadline)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			// Shutdown. The claim row, not this timer, guards exactly-once
			// resolution; an unresolved fill is picked up again only by a
			// user submission.
			return
		case <-timer.C:
			s.resolveAuto(fill)
		}
	}()
}

// resolveAuto is the timeout path: claim, generate without user text, write.
func (s *Scheduler) resolveAuto(fill types.Fill) {
	claimed, err := s.reviews.Claim(s.ctx, fill.ID)
	if err != nil {
		s.logger.Error("auto-claim-failed",
			zap.Int64("fill-id", fill.ID),
			zap.Error(err))
		return
	}

	if !claimed {
		// The user submission won the race. Expected, not a fault.
		ClaimConflictsTotal.Inc()
		s.logger.Debug("auto-resolution-skipped-claim-lost",
			zap.Int64("fill-id", fill.ID))
		return
	}

	text, err := s.generateWithRetry(s.ctx, &fill, nil)
	if err != nil {
		s.logGenerationGivenUp(fill.ID, err)
		return
	}

	err = s.reviews.Write(s.ctx, fill.ID, nil, text, types.ReviewKindAuto)
	if err != nil {
		s.logger.Error("auto-review-write-failed",
			zap.Int64("fill-id", fill.ID),
			zap.Error(err))
		return
	}

	ReviewsResolvedTotal.WithLabelValues(string(types.ReviewKindAuto)).Inc()
	s.events.Publish(s.ctx, events.NewReviewResolved(fill.ID, types.ReviewKindAuto))

	s.logger.Info("review-auto-resolved",
		zap.Int64("fill-id", fill.ID),
		zap.String("symbol", fill.Symbol))
}

// Submit is the user-submission path, triggered by the HTTP layer.
//
// Returns (review, true, nil) when this submission resolved the fill, and
// (existing, false, nil) when the timeout path had already won; existing may
// still be unresolved if the losing side caught the winner mid-generation.
func (s *Scheduler) Submit(ctx context.Context, fillID int64, thought string) (*types.Review, bool, error) {
	fill, err := s.fills.GetFill(ctx, fillID)
	if err != nil {
		return nil, false, err
	}
	if fill == nil {
		return nil, false, ErrFillNotFound
	}

	claimed, err := s.reviews.Claim(ctx, fillID)
	if err != nil {
		return nil, false, err
	}

	if !claimed {
		ClaimConflictsTotal.Inc()
		existing, err := s.reviews.Get(ctx, fillID)
		if err != nil {
			return nil, false, err
		}
		s.logger.Debug("submission-discarded-already-resolved",
			zap.Int64("fill-id", fillID))
		return existing, false, nil
	}

	// The claim is won and will never be offered again, so resolution must
	// not ride on the caller's request context. A disconnect or middleware
	// timeout mid-generation would otherwise strand the fill reviewless.
	ctx = s.ctx

	text, err := s.generateWithRetry(ctx, fill, &thought)
	if err != nil {
		s.logGenerationGivenUp(fillID, err)
		return nil, false, err
	}

	err = s.reviews.Write(ctx, fillID, &thought, text, types.ReviewKindUser)
	if err != nil {
		return nil, false, err
	}

	ReviewsResolvedTotal.WithLabelValues(string(types.ReviewKindUser)).Inc()
	s.events.Publish(ctx, events.NewReviewResolved(fillID, types.ReviewKindUser))

	s.logger.Info("review-user-resolved",
		zap.Int64("fill-id", fillID),
		zap.String("symbol", fill.Symbol))

	review, err := s.reviews.Get(ctx, fillID)
	if err != nil {
		return nil, true, err
	}

	return review, true, nil
}

// generateWithRetry calls the generator within the bounded retry budget,
// backing off exponentially between attempts.
func (s *Scheduler) generateWithRetry(ctx context.Context, fill *types.Fill, userThought *string) (string, error) {
	backoff := s.retryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		text, err := s.generator.Generate(ctx, fill, userThought)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if attempt == s.maxAttempts {
			break
		}

		GenerationRetriesTotal.Inc()
		s.logger.Warn("generation-failed-retrying",
			zap.Int64("fill-id", fill.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	return "", lastErr
}

// logGenerationGivenUp records a permanent generation failure. The claim is
// deliberately kept: a fill whose generation permanently fails never gets a
// second attempt from the opposite path, preserving at most one review.
func (s *Scheduler) logGenerationGivenUp(fillID int64, err error) {
	GenerationGivenUpTotal.Inc()
	s.logger.Error("generation-permanently-failed",
		zap.Int64("fill-id", fillID),
		zap.Int("attempts", s.maxAttempts),
		zap.Error(err))
}

// Close waits for all pending deadline timers to finish.
func (s *Scheduler) Close() error {
	s.wg.Wait()
	s.logger.Info("review-scheduler-stopped")
	return nil
}
