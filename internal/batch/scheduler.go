package batch

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"homeflow/internal/logger"
	"homeflow/pkg/logging"
)

// Runner re-executes a batch whose retry is due.
type Runner interface {
	RunRetry(ctx context.Context, b *Batch) error
}

// RetryScheduler polls for RETRYING batches and hands the due ones to a
// Runner. Due-ness is checked against the clock, never slept on per batch.
type RetryScheduler struct {
	repo     Repository
	runner   Runner
	clock    clockwork.Clock
	interval time.Duration
	limit    int
	logger   logger.Logger
}

func NewRetryScheduler(repo Repository, runner Runner, clock clockwork.Clock, interval time.Duration, log logger.Logger) *RetryScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryScheduler{
		repo:     repo,
		runner:   runner,
		clock:    clock,
		interval: interval,
		limit:    50,
		logger:   log,
	}
}

func (s *RetryScheduler) Start(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfowCtx(ctx, "Batch retry scheduler started", "interval", s.interval)

	for {
		select {
		case <-ticker.Chan():
			if _, err := s.RunDue(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Batch retry scan failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunDue re-runs every batch whose retry time has passed and returns how
// many were handed to the runner. A batch another replica claimed first is
// skipped.
func (s *RetryScheduler) RunDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.repo.ListDueRetries(ctx, now, s.limit)
	if err != nil {
		return 0, err
	}

	ran := 0
	for i := range due {
		b := &due[i]
		if !b.IsRetryDue(now) {
			continue
		}

		batchCtx := logging.WithBatchID(ctx, b.ID)
		won, err := s.repo.ClaimRetry(batchCtx, b.ID, now)
		if err != nil {
			s.logger.ErrorwCtx(batchCtx, "Failed to claim batch retry", "error", err)
			continue
		}
		if !won {
			s.logger.DebugwCtx(batchCtx, "Batch retry claimed elsewhere")
			continue
		}

		s.logger.InfowCtx(batchCtx, "Running batch retry",
			"retry_count", b.RetryCount,
			"max_retries", b.MaxRetries,
		)
		if err := s.runner.RunRetry(batchCtx, b); err != nil {
			s.logger.ErrorwCtx(batchCtx, "Batch retry failed", "error", err)
		}
		ran++
	}
	return ran, nil
}
