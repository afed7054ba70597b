package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"zynx/internal/pdpa/models"
)

// DefaultInterval is how often the worker sweeps when no interval is given.
const DefaultInterval = time.Hour

// Sweeper removes expired consents and processing records.
type Sweeper interface {
	CleanupExpiredData(ctx context.Context) (*models.CleanupResult, error)
}

// Worker runs retention cleanup on a fixed interval.
type Worker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
}

type Option func(*Worker)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New constructs a Worker around sweeper.
func New(sweeper Sweeper, opts ...Option) (*Worker, error) {
	if sweeper == nil {
		return nil, errors.New("sweeper is required")
	}
	w := &Worker{
		sweeper:  sweeper,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start sweeps every interval until ctx is cancelled. A failed sweep is
// logged and retried on the next tick.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "retention cleanup worker started", "interval", w.interval.String())
	for {
		select {
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "retention cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) (models.CleanupResult, error) {
	result, err := w.sweeper.CleanupExpiredData(ctx)
	if err != nil {
		return models.CleanupResult{}, err
	}
	if result.ExpiredConsents > 0 || result.ExpiredProcessingRecords > 0 {
		w.logger.InfoContext(ctx, "retention cleanup removed records",
			"expired_consents", result.ExpiredConsents,
			"expired_processing_records", result.ExpiredProcessingRecords,
		)
	}
	return *result, nil
}
