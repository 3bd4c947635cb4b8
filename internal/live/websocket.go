package live

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/learnitall/internal/identity"
	"github.com/ashureev/learnitall/internal/tutor"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Message is one frame sent to the browser.
type Message struct {
	Type string      `json:"type"`
	View *tutor.View `json:"view,omitempty"`
	Err  string      `json:"error,omitempty"`
}

// WebSocketHandler streams a session's views to the browser.
type WebSocketHandler struct {
	hub           *Hub
	sessions      *tutor.Registry
	allowedOrigin string
	isDev         bool
	keepAlive     time.Duration
}

// NewWebSocketHandler creates a handler serving GET /ws/session.
func NewWebSocketHandler(hub *Hub, sessions *tutor.Registry, allowedOrigin string, isDev bool, keepAlive time.Duration) *WebSocketHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &WebSocketHandler{
		hub:           hub,
		sessions:      sessions,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		keepAlive:     keepAlive,
	}
}

// ServeHTTP handles WebSocket connections.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.Key(r.Context())
	slog.Info("Live view connection request", "key", key, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	session, err := h.sessions.Get(key)
	if err != nil {
		slog.Error("Failed to resolve session for live view", "error", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", session.ID())
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", session.ID())
		}
	}()

	views, unsubscribe := h.hub.Subscribe(session.ID())
	defer unsubscribe()

	// The browser only listens; commands go through the HTTP API.
	ctx := ws.CloseRead(r.Context())

	initial := session.View()
	if err := h.write(ctx, ws, Message{Type: "view", View: &initial}); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Live view closed", "session_id", session.ID(), "reason", ctx.Err())
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			if err := h.write(ctx, ws, Message{Type: "view", View: &v}); err != nil {
				return
			}
		case <-ticker.C:
			// An open live view keeps its session from being swept as idle.
			h.sessions.Touch(key)
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("Live view ping failed", "session_id", session.ID(), "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		slog.Debug("Live view write failed", "error", err)
		return err
	}
	return nil
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
