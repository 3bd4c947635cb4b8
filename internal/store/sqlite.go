package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
	"github.com/ashureev/learnitall/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection; the journal is write-mostly.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS transcript_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		role TEXT,
		content TEXT,
		meta_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_entries(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_transcript_created ON transcript_entries(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendEntries inserts entries in order, in one transaction.
func (s *SQLiteStore) AppendEntries(ctx context.Context, entries []domain.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, "append transcript entries", func() error {
		return s.appendEntries(ctx, entries)
	})
}

func (s *SQLiteStore) appendEntries(ctx context.Context, entries []domain.TranscriptEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO transcript_entries (session_id, kind, role, content, meta_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var meta interface{}
		if len(e.Meta) > 0 {
			data, err := json.Marshal(e.Meta)
			if err != nil {
				return fmt.Errorf("marshal entry meta: %w", err)
			}
			meta = string(data)
		}
		var role interface{}
		if e.Role != "" {
			role = string(e.Role)
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			e.SessionID, e.Kind, role, e.Content, meta, createdAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert transcript entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListEntries returns a session's entries oldest first.
func (s *SQLiteStore) ListEntries(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error) {
	query := `
		SELECT id, session_id, kind, role, content, meta_json, created_at
		FROM transcript_entries WHERE session_id = ? ORDER BY id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcript entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var e domain.TranscriptEntry
		var role, content, meta sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &role, &content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		e.Role = domain.Role(role.String)
		e.Content = content.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("decode entry %d meta: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript entries: %w", err)
	}
	return entries, nil
}

// ListSessions returns the most recently active sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM transcript_entries
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC, MAX(id) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var first, last int64
		if err := rows.Scan(&sum.SessionID, &sum.Entries, &first, &last); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sum.FirstAt = time.UnixMilli(first).UTC()
		sum.LastAt = time.UnixMilli(last).UTC()
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteEntriesBefore removes entries created before cutoff.
func (s *SQLiteStore) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, "delete transcript entries", func() error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM transcript_entries WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete transcript entries: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
