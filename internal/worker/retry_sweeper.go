package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/studiosync/internal/types"
)

// Dispatcher is the part of the sync engine the sweeper drives.
// This interface allows testing with mock implementations.
type Dispatcher interface {
	Flush(ctx context.Context) (int, error)
	RetryFailed(ctx context.Context, c types.Collection) (int, error)
}

// RetrySweeper periodically pushes queued writes to the remote, skipping
// any backoff still pending. With retryFailed set it also revives writes
// that ran out of retries.
type RetrySweeper struct {
	engine      Dispatcher
	interval    time.Duration
	retryFailed bool
}

// NewRetrySweeper creates a sweeper for the given engine.
func NewRetrySweeper(engine Dispatcher, interval time.Duration, retryFailed bool) *RetrySweeper {
	return &RetrySweeper{
		engine:      engine,
		interval:    interval,
		retryFailed: retryFailed,
	}
}

// Run starts the sweeper loop. It blocks until ctx is canceled.
func (s *RetrySweeper) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "retry-sweeper",
		"action", "worker_started",
		"interval", s.interval,
		"retry_failed", s.retryFailed,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "retry-sweeper",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one cycle. Failures are logged and retried on the next tick.
func (s *RetrySweeper) sweep(ctx context.Context) {
	revived := 0
	if s.retryFailed {
		n, err := s.engine.RetryFailed(ctx, "")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("retry of failed writes failed",
				"component", "worker",
				"worker", "retry-sweeper",
				"action", "retry_failed_error",
				"error", err,
			)
		}
		revived = n
	}

	dispatched, err := s.engine.Flush(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("flush of queued writes failed",
			"component", "worker",
			"worker", "retry-sweeper",
			"action", "flush_error",
			"error", err,
		)
		return
	}

	// Log summary only if the cycle did something
	if dispatched > 0 || revived > 0 {
		slog.Info("retry sweep completed",
			"component", "worker",
			"worker", "retry-sweeper",
			"action", "cycle_complete",
			"dispatched", dispatched,
			"revived", revived,
		)
	}
}
