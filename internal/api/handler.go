// Package api provides HTTP handlers for the tutor API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/learnitall/internal/identity"
	"github.com/ashureev/learnitall/internal/prompts"
	"github.com/ashureev/learnitall/internal/store"
	"github.com/ashureev/learnitall/internal/tutor"
	"github.com/go-chi/chi/v5"
)

// SettingsPath is where clients are sent when no model is installed.
const SettingsPath = "/settings"

// Options configures a Handler.
type Options struct {
	Mode              tutor.Mode
	DefaultModel      string
	PlaybackDelay     time.Duration
	LessonTitle       string
	Prompts           prompts.Set
	KeepAliveInterval time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handler serves the session API.
type Handler struct {
	sessions    *tutor.Registry
	models      tutor.ModelLister
	transcripts store.Repository // nil when the journal is disabled
	limiter     *RateLimiter
	opts        Options
	logger      *slog.Logger
}

// NewHandler creates a Handler. transcripts may be nil.
func NewHandler(sessions *tutor.Registry, models tutor.ModelLister, transcripts store.Repository, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 10 * time.Second
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 10
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	return &Handler{
		sessions:    sessions,
		models:      models,
		transcripts: transcripts,
		limiter:     NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		opts:        opts,
		logger:      logger,
	}
}

// Close stops background work.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/config", h.HandleConfig)
	r.Get("/models", h.HandleModels)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.HandleView)
		r.Get("/transcript", h.HandleTranscript)
		r.Post("/model", h.HandleSelectModel)
		r.Post("/code", h.HandleSubmitCode)
		r.Post("/previous", h.HandlePrevious)
		r.Post("/next", h.HandleNext)
		r.Post("/tick", h.HandleTick)
		r.Post("/reset", h.HandleReset)
		r.Post("/chat", h.HandleChat)
		r.Post("/review", h.HandleReview)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of error replies that carry a follow-up action.
type ErrorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

// writeTutorError maps a tutor error to a status code and writes it.
func writeTutorError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if errors.Is(err, tutor.ErrNoModelsAvailable) {
		resp.Redirect = SettingsPath
	}
	JSON(w, status, resp)
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, tutor.ErrNoModelsAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, tutor.ErrModelUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, tutor.ErrStreamInFlight), errors.Is(err, tutor.ErrInvalidNavigation),
		errors.Is(err, tutor.ErrPlaybackRunning):
		return http.StatusConflict
	case errors.Is(err, tutor.ErrUnknownModel), errors.Is(err, tutor.ErrEmptyMessage),
		errors.Is(err, tutor.ErrWrongMode), errors.Is(err, tutor.ErrEmptyHistory):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// session resolves the caller's session, creating it on first use.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*tutor.Session, bool) {
	s, err := h.sessions.Get(identity.Key(r.Context()))
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return nil, false
	}
	return s, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}
