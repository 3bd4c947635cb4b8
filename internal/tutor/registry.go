package tutor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory builds a new session for a client key.
type Factory func(key string) (*Session, error)

// Registry maps client keys to their sessions, creating them on first use.
// Sessions left idle are closed and forgotten by Sweep.
type Registry struct {
	factory  Factory
	logger   *slog.Logger
	autoplay bool
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*registryEntry
	ctx      context.Context
	cancel   context.CancelFunc
}

type registryEntry struct {
	session  *Session
	lastSeen time.Time
}

// NewRegistry creates a registry. When autoplay is set, scripted sessions
// start playback as soon as they are created.
func NewRegistry(factory Factory, autoplay bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		factory:  factory,
		logger:   logger,
		autoplay: autoplay,
		now:      time.Now,
		sessions: make(map[string]*registryEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Get returns the session for key, creating it if needed. Either way the
// session counts as used now.
func (r *Registry) Get(key string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[key]; ok {
		e.lastSeen = r.now()
		return e.session, nil
	}
	s, err := r.factory(key)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = &registryEntry{session: s, lastSeen: r.now()}
	r.logger.Info("Session created", "session_id", s.ID(), "mode", string(s.Mode()), "sessions", len(r.sessions))

	if r.autoplay && s.Mode() == ModeScripted {
		if err := s.StartPlayback(r.ctx); err != nil {
			r.logger.Warn("Failed to start playback", "session_id", s.ID(), "error", err)
		}
	}
	return s, nil
}

// Lookup returns the session for key without creating one.
func (r *Registry) Lookup(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Touch marks the session for key as used now. It reports whether the
// session exists.
func (r *Registry) Touch(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	if ok {
		e.lastSeen = r.now()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes and removes sessions unused for longer than idle. Sessions
// with a stream in flight are kept. It returns the number removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var expired []*Session
	for key, e := range r.sessions {
		if e.lastSeen.After(cutoff) || e.session.InFlight() {
			continue
		}
		expired = append(expired, e.session)
		delete(r.sessions, key)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
		r.logger.Info("Idle session closed", "session_id", s.ID())
	}
	if len(expired) > 0 {
		r.logger.Info("Idle sessions swept", "closed", len(expired), "sessions", remaining)
	}
	return len(expired)
}

// StartIdleSweeper runs Sweep in the background until ctx is done. A
// non-positive idle keeps sessions forever.
func (r *Registry) StartIdleSweeper(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		r.logger.Info("Idle session sweeper disabled")
		return
	}
	interval := min(max(idle/4, time.Second), time.Minute)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("Idle session sweeper started", "interval", interval, "idle_ttl", idle)
		for {
			select {
			case <-ticker.C:
				r.Sweep(idle)
			case <-ctx.Done():
				r.logger.Info("Idle session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Close stops every session.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.session)
	}
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	r.logger.Info("Sessions closed", "count", len(sessions))
}
