// Package live pushes session views to connected browsers over WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/ashureev/learnitall/internal/tutor"
)

// Hub fans session views out to subscribers. Slow subscribers only ever see
// the latest view: older undelivered views are replaced.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{} // session ID -> subscribers
}

type subscriber struct {
	ch chan tutor.View
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Renderer returns the render target for one session.
func (h *Hub) Renderer(sessionID string) tutor.Renderer {
	return tutor.RendererFunc(func(v tutor.View) {
		h.Publish(sessionID, v)
	})
}

// Publish delivers v to every subscriber of sessionID without blocking.
func (h *Hub) Publish(sessionID string, v tutor.View) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[sessionID] {
		sub.offer(v)
	}
}

// Subscribe registers for views of sessionID. Call the returned func to
// unsubscribe; the channel is closed afterwards.
func (h *Hub) Subscribe(sessionID string) (<-chan tutor.View, func()) {
	sub := &subscriber{ch: make(chan tutor.View, 1)}

	h.mu.Lock()
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	count := len(h.subs[sessionID])
	h.mu.Unlock()
	slog.Debug("Live view subscribed", "session_id", sessionID, "subscribers", count)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[sessionID]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(h.subs, sessionID)
				}
			}
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of subscribers for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// offer is called with the hub read lock held, so it never races with close.
func (s *subscriber) offer(v tutor.View) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		// Drop the stale view and retry.
		select {
		case <-s.ch:
		default:
		}
	}
}
