package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = 1 * time.Hour

// StartRetentionWorker runs a background goroutine that periodically deletes
// transcript entries older than retention. A non-positive retention keeps
// everything.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	if retention <= 0 {
		slog.Info("Transcript retention disabled")
		return
	}
	ticker := time.NewTicker(retentionInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", retentionInterval, "retention", retention)

		sweepExpiredEntries(ctx, repo, retention)
		for {
			select {
			case <-ticker.C:
				sweepExpiredEntries(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredEntries(ctx context.Context, repo Repository, retention time.Duration) int64 {
	cutoff := time.Now().Add(-retention)
	deleted, err := repo.DeleteEntriesBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Retention worker failed to delete old entries", "error", err)
		}
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker deleted old transcript entries", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}
