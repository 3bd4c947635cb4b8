// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// sqliteConflictMarkers identify SQLite lock contention in driver errors.
var sqliteConflictMarkers = []string{"SQLITE_BUSY", "SQLITE_LOCKED", "database is locked", "database table is locked"}

// IsSQLiteConflictError reports whether err is SQLite lock contention that
// is worth retrying.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range sqliteConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryOnConflict runs op up to attempts times, backing off exponentially
// from baseDelay while op fails with a SQLite concurrency error. Other
// errors are returned immediately.
func RetryOnConflict(ctx context.Context, attempts int, baseDelay time.Duration, name string, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "operation", name, "attempt", i+1, "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}
