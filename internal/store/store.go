// Package store provides the transcript journal: an append-only audit log of
// session activity. It is never read back into a live session.
package store

import (
	"context"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
)

// SessionSummary describes one journaled session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Entries   int       `json:"entries"`
	FirstAt   time.Time `json:"first_at"`
	LastAt    time.Time `json:"last_at"`
}

// Repository defines the interface for persisting transcript entries.
type Repository interface {
	// AppendEntries inserts entries in order, in one transaction.
	AppendEntries(ctx context.Context, entries []domain.TranscriptEntry) error

	// ListEntries returns a session's entries oldest first. A limit <= 0
	// returns all of them.
	ListEntries(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error)

	// ListSessions returns the most recently active sessions first.
	ListSessions(ctx context.Context, limit int) ([]SessionSummary, error)

	// DeleteEntriesBefore removes entries created before cutoff.
	DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
