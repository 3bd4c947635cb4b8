package domain

import "time"

// Transcript entry kinds.
const (
	EntryMessage         = "message"
	EntryStreamCompleted = "stream_completed"
	EntryStreamFailed    = "stream_failed"
	EntryStreamRejected  = "stream_rejected"
	EntryStreamAbandoned = "stream_abandoned"
	EntryReset           = "reset"
)

// TranscriptEntry is one journaled session event.
type TranscriptEntry struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Role      Role           `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
