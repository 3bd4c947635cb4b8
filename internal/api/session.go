//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/learnitall/internal/tutor"
)

const modelListTimeout = 10 * time.Second

// ConfigResponse describes how the server is set up.
type ConfigResponse struct {
	Mode            tutor.Mode `json:"mode"`
	DefaultModel    string     `json:"default_model,omitempty"`
	PlaybackDelayMS int64      `json:"playback_delay_ms"`
	LessonTitle     string     `json:"lesson_title"`
	TutorMarker     string     `json:"tutor_marker"`
	WordLimit       int        `json:"word_limit"`
	Transcript      bool       `json:"transcript"`
}

// HandleConfig handles GET /api/config.
func (h *Handler) HandleConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, ConfigResponse{
		Mode:            h.opts.Mode,
		DefaultModel:    h.opts.DefaultModel,
		PlaybackDelayMS: h.opts.PlaybackDelay.Milliseconds(),
		LessonTitle:     h.opts.LessonTitle,
		TutorMarker:     h.opts.Prompts.TutorMarker,
		WordLimit:       h.opts.Prompts.WordLimit,
		Transcript:      h.transcripts != nil,
	})
}

// ModelsResponse lists installed models.
type ModelsResponse struct {
	Models   []string `json:"models"`
	Selected string   `json:"selected,omitempty"`
}

// HandleModels handles GET /api/models. With no installed model it answers
// 503 and points the client at the settings page.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), modelListTimeout)
	defer cancel()

	models, err := h.models.ListModels(ctx)
	if err != nil {
		h.logger.Warn("Failed to list models", "error", err)
		writeTutorError(w, errors.Join(tutor.ErrModelUnavailable, err))
		return
	}
	if len(models) == 0 {
		writeTutorError(w, tutor.ErrNoModelsAvailable)
		return
	}

	resp := ModelsResponse{Models: models}
	if s, ok := h.sessions.Lookup(sessionKey(r)); ok {
		resp.Selected = s.Model()
	}
	JSON(w, http.StatusOK, resp)
}

// HandleView handles GET /api/session.
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// SelectModelRequest is the body of POST /api/session/model.
type SelectModelRequest struct {
	Model string `json:"model"`
}

// HandleSelectModel handles POST /api/session/model.
func (h *Handler) HandleSelectModel(w http.ResponseWriter, r *http.Request) {
	var req SelectModelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Model == "" {
		Error(w, http.StatusBadRequest, "model is required")
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.SelectModel(r.Context(), req.Model); err != nil {
		writeTutorError(w, err)
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// SubmitCodeRequest is the body of POST /api/session/code.
type SubmitCodeRequest struct {
	Code string `json:"code"`
}

// HandleSubmitCode handles POST /api/session/code.
func (h *Handler) HandleSubmitCode(w http.ResponseWriter, r *http.Request) {
	var req SubmitCodeRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.SubmitCode(req.Code)
	JSON(w, http.StatusOK, s.View())
}

// HandlePrevious handles POST /api/session/previous.
func (h *Handler) HandlePrevious(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, (*tutor.Session).PreviousExercise)
}

// HandleNext handles POST /api/session/next.
func (h *Handler) HandleNext(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, (*tutor.Session).NextExercise)
}

func (h *Handler) navigate(w http.ResponseWriter, r *http.Request, move func(*tutor.Session) (int, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := move(s); err != nil {
		writeTutorError(w, err)
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// TickResponse reports the result of a manual playback tick.
type TickResponse struct {
	Advanced bool       `json:"advanced"`
	View     tutor.View `json:"view"`
}

// HandleTick handles POST /api/session/tick. It reveals the next scripted
// pair, and answers 409 while playback is running on its own.
func (h *Handler) HandleTick(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	advanced, err := s.Step(r.Context())
	if err != nil {
		writeTutorError(w, err)
		return
	}
	JSON(w, http.StatusOK, TickResponse{Advanced: advanced, View: s.View()})
}

// HandleReset handles POST /api/session/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Reset()
	JSON(w, http.StatusOK, s.View())
}

// HandleTranscript handles GET /api/session/transcript.
func (h *Handler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		Error(w, http.StatusNotFound, "transcript journal is disabled")
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.transcripts.ListEntries(r.Context(), s.ID(), limit)
	if err != nil {
		h.logger.Error("Failed to list transcript", "session_id", s.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": s.ID(),
		"entries":    entries,
	})
}
