// Package worker runs the background coordinator loops of the client daemon.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// LogCleaner runs one retention cleanup pass over the capture log.
type LogCleaner interface {
	Cleanup(ctx context.Context, retentionDays, minKeep int) (int64, error)
}

// RetentionCoordinator periodically removes old synced capture events.
type RetentionCoordinator struct {
	cleaner       LogCleaner
	interval      time.Duration
	retentionDays int
	minKeep       int
}

// NewRetentionCoordinator creates a coordinator cleaning the capture log on
// the given interval.
func NewRetentionCoordinator(cleaner LogCleaner, interval time.Duration, retentionDays, minKeep int) *RetentionCoordinator {
	return &RetentionCoordinator{
		cleaner:       cleaner,
		interval:      interval,
		retentionDays: retentionDays,
		minKeep:       minKeep,
	}
}

// Run starts the coordinator loop.
func (c *RetentionCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "retention-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Clean immediately on start
	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "retention-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// runCycle runs one cleanup pass.
func (c *RetentionCoordinator) runCycle(ctx context.Context) {
	start := time.Now()

	removed, err := c.cleaner.Cleanup(ctx, c.retentionDays, c.minKeep)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log as error
		}
		slog.Error("retention cleanup failed",
			"component", "worker",
			"worker", "retention-coordinator",
			"action", "cleanup_failed",
			"error", err,
		)
		return
	}

	slog.Info("retention cycle completed",
		"component", "worker",
		"worker", "retention-coordinator",
		"action", "cycle_complete",
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
