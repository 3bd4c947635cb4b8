//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/learnitall/internal/identity"
	"github.com/ashureev/learnitall/internal/tutor"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ChatRequest is the body of POST /api/session/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ReviewRequest is the optional body of POST /api/session/review. When Code
// is set it is submitted before the review is requested.
type ReviewRequest struct {
	Code *string `json:"code,omitempty"`
}

// ChunkEvent is the data of an SSE "chunk" event.
type ChunkEvent struct {
	Chunk   string `json:"chunk"`
	Partial string `json:"partial"`
}

// DoneEvent is the data of an SSE "done" event.
type DoneEvent struct {
	Status    tutor.Status `json:"status"`
	Content   string       `json:"content"`
	RequestID string       `json:"request_id,omitempty"`
	Model     string       `json:"model,omitempty"`
	Chunks    int          `json:"chunks"`
}

// ErrorEvent is the data of an SSE "error" event.
type ErrorEvent struct {
	Error  string       `json:"error"`
	Reason tutor.Status `json:"reason"`
}

type streamFunc func(onChunk tutor.ChunkFunc) tutor.Result

func sessionKey(r *http.Request) string {
	return identity.Key(r.Context())
}

// HandleChat handles POST /api/session/chat, streaming the answer via SSE.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req ChatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	h.logger.Info("Chat request",
		"session_id", s.ID(),
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)
	h.stream(w, r, s, "chat", func(onChunk tutor.ChunkFunc) tutor.Result {
		return s.SendChat(r.Context(), req.Message, onChunk)
	})
}

// HandleReview handles POST /api/session/review, streaming the answer via SSE.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req ReviewRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if req.Code != nil {
		s.SubmitCode(*req.Code)
	}

	h.logger.Info("Review request",
		"session_id", s.ID(),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	h.stream(w, r, s, "review", func(onChunk tutor.ChunkFunc) tutor.Result {
		return s.RequestReview(r.Context(), onChunk)
	})
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter.Allow(identity.LearnerIDFromContext(r.Context())) {
		return true
	}
	Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// stream runs fn and relays its chunks as server-sent events. The SSE
// response starts with the first chunk or keepalive; a request rejected
// before that gets a plain JSON error with a matching status code.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, s *tutor.Session, kind string, fn streamFunc) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	chunks := make(chan ChunkEvent, 64)
	results := make(chan tutor.Result, 1)
	go func() {
		results <- fn(func(chunk, partial string) {
			select {
			case chunks <- ChunkEvent{Chunk: chunk, Partial: partial}:
			case <-ctx.Done():
			}
		})
	}()

	keepalive := time.NewTicker(h.opts.KeepAliveInterval)
	defer keepalive.Stop()

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}
	send := func(event string, v interface{}) {
		start()
		data, err := json.Marshal(v)
		if err != nil {
			h.logger.Warn("failed to marshal SSE event", "event", event, "error", err)
			return
		}
		if err := writeSSE(w, event, string(data)); err != nil {
			h.logger.Debug("failed to write SSE event", "event", event, "error", err)
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case ev := <-chunks:
			send("chunk", ev)

		case <-keepalive.C:
			send("ping", map[string]string{"status": "alive"})

		case res := <-results:
			// Chunks queued before the result still go out first.
			for drained := false; !drained; {
				select {
				case ev := <-chunks:
					send("chunk", ev)
				default:
					drained = true
				}
			}
			h.finishStream(w, s, kind, res, started, send)
			return
		}
	}
}

func (h *Handler) finishStream(w http.ResponseWriter, s *tutor.Session, kind string, res tutor.Result, started bool, send func(string, interface{})) {
	switch res.Status {
	case tutor.StatusCompleted:
		send("done", DoneEvent{
			Status:    res.Status,
			Content:   res.Content,
			RequestID: res.RequestID,
			Model:     res.Model,
			Chunks:    res.Chunks,
		})
	case tutor.StatusRejected:
		if !started {
			writeTutorError(w, res.Err)
			return
		}
		send("error", ErrorEvent{Error: errString(res.Err), Reason: res.Status})
	default:
		send("error", ErrorEvent{Error: errString(res.Err), Reason: res.Status})
	}
	h.logger.Info("Stream finished",
		"session_id", s.ID(),
		"kind", kind,
		"status", string(res.Status),
		"chunks", res.Chunks,
		"duration_ms", res.Duration.Milliseconds(),
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
