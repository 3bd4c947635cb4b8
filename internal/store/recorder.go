package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
)

const (
	recorderBatchSize     = 64
	recorderFlushInterval = 500 * time.Millisecond
	recorderWriteTimeout  = 5 * time.Second
)

// Recorder journals transcript entries asynchronously. Record never blocks:
// when the queue is full the entry is dropped and counted.
type Recorder struct {
	repo   Repository
	queue  chan domain.TranscriptEntry
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64

	done chan struct{}
}

// NewRecorder starts a recorder writing to repo.
func NewRecorder(repo Repository, queueSize int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	r := &Recorder{
		repo:   repo,
		queue:  make(chan domain.TranscriptEntry, queueSize),
		logger: logger.With("component", "transcript"),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues entry for writing.
func (r *Recorder) Record(entry domain.TranscriptEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case r.queue <- entry:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("Transcript queue full, dropping entries",
				"session_id", entry.SessionID,
				"dropped_total", n,
			)
		}
	}
}

// Stats returns how many entries were written and dropped so far.
func (r *Recorder) Stats() (written, dropped int64) {
	return r.written.Load(), r.dropped.Load()
}

// Close flushes queued entries and stops the writer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-time.After(recorderWriteTimeout):
		r.logger.Warn("Transcript writer shutdown timeout", "queue_remaining", len(r.queue))
	}
	written, dropped := r.Stats()
	r.logger.Info("Transcript writer stopped", "written", written, "dropped", dropped)
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(recorderFlushInterval)
	defer ticker.Stop()

	batch := make([]domain.TranscriptEntry, 0, recorderBatchSize)
	for {
		select {
		case entry, ok := <-r.queue:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= recorderBatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(batch []domain.TranscriptEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.repo.AppendEntries(ctx, batch); err != nil {
		r.dropped.Add(int64(len(batch)))
		r.logger.Error("Failed to write transcript entries", "count", len(batch), "error", err)
		return
	}
	r.written.Add(int64(len(batch)))
	if d := time.Since(start); d > 100*time.Millisecond {
		r.logger.Warn("Slow transcript write", "count", len(batch), "duration_ms", d.Milliseconds())
	}
}
