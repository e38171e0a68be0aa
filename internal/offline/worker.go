package offline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Worker drives the reconciler: it periodically polls for clients with
// queued work and applies their backlog, pacing Apply calls with a rate
// limiter so a flood of returning devices cannot saturate the database.
type Worker struct {
	reconciler *Reconciler
	cfg        *WorkerConfig
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewWorker creates a sync worker over the given reconciler.
func NewWorker(reconciler *Reconciler, cfg *WorkerConfig) *Worker {
	if cfg == nil {
		cfg = defaultWorkerConfig()
	}

	return &Worker{
		reconciler: reconciler,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.AppliesPerSecond), 1),
		logger:     reconciler.logger.With(slog.String("component", "offline.worker")),
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Sync worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Int("apply_limit", w.cfg.ApplyLimit))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Sync worker stopped")

			return ctx.Err()
		case <-ticker.C:
			if err := w.runOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}

				// Transient failures (db restart, lock timeout) resolve on a later tick.
				w.logger.ErrorContext(ctx, "Sync pass failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// runOnce applies the backlog of every client that currently has queued rows.
func (w *Worker) runOnce(ctx context.Context) error {
	clientIDs, err := w.reconciler.QueuedClientIDs(ctx, 50)
	if err != nil {
		return err
	}

	for _, clientID := range clientIDs {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := w.reconciler.Apply(ctx, clientID, w.cfg.ApplyLimit)
		if err != nil {
			w.logger.ErrorContext(ctx, "Apply failed",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()))

			continue
		}

		if resp.Conflicts > 0 {
			w.logger.WarnContext(ctx, "Apply produced conflicts",
				slog.String("client_id", clientID),
				slog.Int("conflicts", resp.Conflicts))
		}
	}

	return nil
}
