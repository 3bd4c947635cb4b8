// Package tutor implements the tutoring session: the conversation log, the
// scripted dialogue player, the exercise navigator and the streaming chat
// orchestrator, composed behind a Session controller.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
	"github.com/ashureev/learnitall/internal/prompts"
	"github.com/google/uuid"
)

// Mode selects which of the two mutually exclusive tutoring flows a session runs.
type Mode string

const (
	// ModeChat is interactive chat with exercise review.
	ModeChat Mode = "chat"
	// ModeScripted replays the fixed lesson dialogue.
	ModeScripted Mode = "scripted"
)

// ParseMode parses a mode name. An empty name selects ModeChat.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeChat:
		return ModeChat, nil
	case ModeScripted:
		return ModeScripted, nil
	default:
		return "", fmt.Errorf("unknown tutor mode %q", s)
	}
}

// Journal records session activity somewhere outside the session.
// Record must not block.
type Journal interface {
	Record(entry domain.TranscriptEntry)
}

// Renderer receives a fresh View after every completed interaction.
type Renderer interface {
	Render(view View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

// Render calls f(view).
func (f RendererFunc) Render(view View) { f(view) }

// Options configures a Session.
type Options struct {
	Mode          Mode
	Script        []domain.ScriptEntry
	Exercises     []domain.Exercise
	Prompts       prompts.Set
	DefaultModel  string
	PlaybackDelay time.Duration
	Pacer         Pacer
	Journal       Journal
	Renderer      Renderer
	Logger        *slog.Logger
}

// Session owns all state of one logical tutoring session and applies each
// interaction to it as a unit.
type Session struct {
	id       string
	mode     Mode
	prompts  prompts.Set
	journal  Journal
	renderer Renderer
	logger   *slog.Logger

	store  *MessageStore
	nav    *Navigator
	player *Player       // ModeScripted only
	chat   *Orchestrator // ModeChat only

	mu          sync.Mutex // guards the fields below
	model       string
	submissions map[int]string
	snippet     string
	turnErr     *TurnError

	playMu     sync.Mutex
	playParent context.Context
	playCancel context.CancelFunc
	playDone   chan struct{}

	renderMu sync.Mutex // orders published views

	afterBegin func() // test hook, runs once a stream slot is claimed
}

// NewSession creates a session. backend may be nil in ModeScripted.
func NewSession(backend ModelBackend, opts Options) (*Session, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	nav, err := NewNavigator(opts.Exercises)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	set := opts.Prompts
	if set.Review == "" {
		set = prompts.Default()
	}

	s := &Session{
		id:          uuid.NewString(),
		mode:        mode,
		prompts:     set,
		journal:     opts.Journal,
		renderer:    opts.Renderer,
		store:       NewMessageStore(),
		nav:         nav,
		model:       opts.DefaultModel,
		submissions: make(map[int]string),
	}
	s.logger = logger.With("session_id", s.id, "mode", string(mode))

	switch mode {
	case ModeScripted:
		s.player = NewPlayer(opts.Script, opts.PlaybackDelay, opts.Pacer)
	case ModeChat:
		if backend == nil {
			return nil, errors.New("chat mode requires a model backend")
		}
		s.chat = NewOrchestrator(backend, s.logger)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the session's operating mode.
func (s *Session) Mode() Mode { return s.mode }

// SetRenderer replaces the render-signal receiver.
func (s *Session) SetRenderer(r Renderer) {
	s.mu.Lock()
	s.renderer = r
	s.mu.Unlock()
}

// SubmitCode stores the editor buffer for the current exercise.
func (s *Session) SubmitCode(code string) {
	s.mu.Lock()
	idx := s.nav.Index()
	s.submissions[idx] = code
	if s.mode == ModeScripted {
		s.snippet = code
	}
	s.mu.Unlock()

	s.logger.Info("Code submitted", "exercise_index", idx, "code_length", len(code))
	s.render()
}

// PreviousExercise moves to the previous exercise, wrapping around.
func (s *Session) PreviousExercise() (int, error) {
	return s.navigate(s.nav.Previous)
}

// NextExercise moves to the next exercise, wrapping around.
func (s *Session) NextExercise() (int, error) {
	return s.navigate(s.nav.Next)
}

func (s *Session) navigate(move func() (int, error)) (int, error) {
	s.mu.Lock()
	idx, err := move()
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	s.render()
	return idx, nil
}

// Models lists the installed models. It fails with ErrNoModelsAvailable when
// the backend has none.
func (s *Session) Models(ctx context.Context) ([]string, error) {
	if s.chat == nil {
		return nil, ErrWrongMode
	}
	return s.chat.Models(ctx)
}

// SelectModel sets the model used for chat and review requests.
func (s *Session) SelectModel(ctx context.Context, model string) error {
	models, err := s.Models(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(models, model) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	s.logger.Info("Model selected", "model", model)
	s.render()
	return nil
}

// Model returns the selected model, or "" when none has been chosen yet.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// resolveModel returns the selected model, falling back to the first listed one.
func (s *Session) resolveModel(ctx context.Context) (string, error) {
	if model := s.Model(); model != "" {
		return model, nil
	}
	models, err := s.chat.Models(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.model == "" {
		s.model = models[0]
	}
	model := s.model
	s.mu.Unlock()
	return model, nil
}

// SendChat appends text as a user turn and streams the model's answer to it,
// using the whole conversation as context. Messages starting with the tutor
// marker are first rewritten to embed the current exercise's code.
func (s *Session) SendChat(ctx context.Context, text string, onChunk ChunkFunc) Result {
	if s.chat == nil {
		return Result{Status: StatusRejected, Err: ErrWrongMode}
	}
	if strings.TrimSpace(text) == "" {
		return Result{Status: StatusRejected, Err: ErrEmptyMessage}
	}

	req, err := s.begin(ctx)
	if err != nil {
		return s.rejected(err, "chat")
	}
	if s.afterBegin != nil {
		s.afterBegin()
	}

	// Reset clears the store under s.mu after abandoning the request, so the
	// turn is only appended while the request still owns the slot.
	s.mu.Lock()
	if s.chat.Active() != req {
		s.mu.Unlock()
		res := Result{Status: StatusAbandoned, RequestID: req.ID, Model: req.Model, Err: context.Canceled}
		s.finish(res, -1, "chat")
		return res
	}
	content, tutored := s.prompts.TutorPrompt(s.currentCodeLocked(), text)
	s.store.Append(domain.RoleUser, content)
	turnIndex := s.store.Len() - 1
	s.turnErr = nil
	s.mu.Unlock()

	s.record(domain.TranscriptEntry{Kind: domain.EntryMessage, Role: domain.RoleUser, Content: content,
		Meta: map[string]any{"tutor_prompt": tutored}})
	s.logger.Info("Chat turn", "request_id", req.ID, "model", req.Model, "message_length", len(content), "tutor_prompt", tutored)
	s.render()

	res := s.chat.Stream(req, s.store.Snapshot(), s.store, s.chunkRenderer(onChunk))
	s.finish(res, turnIndex, "chat")
	return res
}

// RequestReview asks the model to critique the current exercise's code. The
// review prompt is sent as an isolated single-turn request and is not added
// to the conversation; only the answer is.
func (s *Session) RequestReview(ctx context.Context, onChunk ChunkFunc) Result {
	if s.chat == nil {
		return Result{Status: StatusRejected, Err: ErrWrongMode}
	}

	req, err := s.begin(ctx)
	if err != nil {
		return s.rejected(err, "review")
	}

	s.mu.Lock()
	prompt := s.prompts.ReviewPrompt(s.currentCodeLocked())
	idx := s.nav.Index()
	s.turnErr = nil
	s.mu.Unlock()

	s.logger.Info("Review requested", "request_id", req.ID, "model", req.Model, "exercise_index", idx)
	s.render()

	history := []domain.Message{domain.NewMessage(domain.RoleUser, prompt)}
	res := s.chat.Stream(req, history, s.store, s.chunkRenderer(onChunk))
	s.finish(res, -1, "review")
	return res
}

func (s *Session) begin(ctx context.Context) (*StreamRequest, error) {
	model, err := s.resolveModel(ctx)
	if err != nil {
		return nil, err
	}
	return s.chat.Begin(ctx, model)
}

func (s *Session) rejected(err error, kind string) Result {
	if errors.Is(err, ErrStreamInFlight) {
		s.logger.Warn("Streaming request rejected", "kind", kind, "error", err)
	} else {
		s.logger.Info("Streaming request not started", "kind", kind, "error", err)
	}
	s.record(domain.TranscriptEntry{Kind: domain.EntryStreamRejected, Meta: map[string]any{"kind": kind, "error": err.Error()}})
	return Result{Status: StatusRejected, Err: err}
}

func (s *Session) finish(res Result, turnIndex int, kind string) {
	meta := map[string]any{
		"kind":        kind,
		"request_id":  res.RequestID,
		"model":       res.Model,
		"chunks":      res.Chunks,
		"duration_ms": res.Duration.Milliseconds(),
	}

	switch res.Status {
	case StatusCompleted:
		s.record(domain.TranscriptEntry{Kind: domain.EntryMessage, Role: domain.RoleAssistant, Content: res.Content})
		s.record(domain.TranscriptEntry{Kind: domain.EntryStreamCompleted, Meta: meta})
		s.logger.Info("Streaming request completed", "request_id", res.RequestID, "chunks", res.Chunks, "content_length", len(res.Content))
	case StatusFailed:
		meta["error"] = res.Err.Error()
		meta["partial_length"] = len(res.Content)
		s.mu.Lock()
		s.turnErr = &TurnError{MessageIndex: turnIndex, Kind: kind, Reason: res.Err.Error()}
		s.mu.Unlock()
		s.record(domain.TranscriptEntry{Kind: domain.EntryStreamFailed, Meta: meta})
	case StatusAbandoned:
		meta["partial_length"] = len(res.Content)
		s.record(domain.TranscriptEntry{Kind: domain.EntryStreamAbandoned, Meta: meta})
		s.logger.Info("Streaming request abandoned", "request_id", res.RequestID)
	case StatusRejected:
		if res.Err != nil {
			meta["error"] = res.Err.Error()
		}
		s.record(domain.TranscriptEntry{Kind: domain.EntryStreamRejected, Meta: meta})
	}
	s.render()
}

func (s *Session) chunkRenderer(onChunk ChunkFunc) ChunkFunc {
	return func(chunk, partial string) {
		if onChunk != nil {
			onChunk(chunk, partial)
		}
		s.render()
	}
}

// currentCodeLocked returns the submitted code for the current exercise, or
// its starter code when nothing was submitted. s.mu must be held.
func (s *Session) currentCodeLocked() string {
	idx := s.nav.Index()
	if code, ok := s.submissions[idx]; ok && code != "" {
		return code
	}
	ex, err := s.nav.Current()
	if err != nil {
		return ""
	}
	return ex.Code
}

// Tick reveals one scripted pair. It reports false once the script is done.
func (s *Session) Tick(ctx context.Context) (bool, error) {
	if s.player == nil {
		return false, ErrWrongMode
	}
	advanced := s.player.Tick(ctx, s.store, func(group []domain.Message) {
		for _, msg := range group {
			s.record(domain.TranscriptEntry{Kind: domain.EntryMessage, Role: msg.Role, Content: msg.Content,
				Meta: map[string]any{"source": "script"}})
		}
		s.render()
	})
	if !advanced {
		return false, nil
	}

	cursor := s.player.Cursor()
	s.mu.Lock()
	// A concurrent reset may already have rewound the cursor.
	if cursor > 0 && cursor <= s.player.Len() {
		if answer := s.player.script[cursor-1].Answer; answer.HasCode() {
			s.snippet = answer.Code
		}
	}
	s.mu.Unlock()

	s.logger.Debug("Playback tick", "cursor", cursor, "total", s.player.Len())
	s.render()
	return true, nil
}

// Step is a manual Tick. It is refused with ErrPlaybackRunning while
// background playback is advancing the script.
func (s *Session) Step(ctx context.Context) (bool, error) {
	if s.player == nil {
		return false, ErrWrongMode
	}
	if s.playbackRunning() {
		return false, ErrPlaybackRunning
	}
	return s.Tick(ctx)
}

// StartPlayback runs ticks in the background until the script is done, ctx
// is cancelled or StopPlayback is called. Starting twice is a no-op.
func (s *Session) StartPlayback(ctx context.Context) error {
	if s.player == nil {
		return ErrWrongMode
	}
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.playCancel != nil {
		return nil
	}
	s.startPlaybackLocked(ctx)
	return nil
}

func (s *Session) startPlaybackLocked(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.playParent = parent
	s.playCancel = cancel
	s.playDone = done

	go func() {
		defer close(done)
		s.logger.Info("Playback started", "total", s.player.Len())
		for ctx.Err() == nil {
			advanced, _ := s.Tick(ctx)
			if !advanced {
				s.logger.Info("Playback finished", "cursor", s.player.Cursor())
				return
			}
		}
	}()
}

// StopPlayback stops background playback and waits for the current tick to
// finish. It reports whether playback was running.
func (s *Session) StopPlayback() bool {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	return s.stopPlaybackLocked()
}

func (s *Session) stopPlaybackLocked() bool {
	if s.playCancel == nil {
		return false
	}
	s.playCancel()
	<-s.playDone
	s.playCancel = nil
	s.playDone = nil
	return true
}

// Reset abandons any in-flight stream without appending its partial text,
// stops playback, and returns the session to its initial state. Playback that
// was running is restarted from the beginning.
func (s *Session) Reset() {
	s.playMu.Lock()
	parent := s.playParent
	wasPlaying := s.stopPlaybackLocked()

	abandoned := false
	if s.chat != nil {
		abandoned = s.chat.Abandon()
	}

	// The player lock is taken before s.mu: a manual tick holds it while
	// rendering, and rendering takes s.mu.
	if s.player != nil {
		s.player.rewind()
	}

	s.mu.Lock()
	s.store.clear()
	s.nav.rewind()
	s.submissions = make(map[int]string)
	s.snippet = ""
	s.turnErr = nil
	s.mu.Unlock()

	if wasPlaying && parent != nil && parent.Err() == nil {
		s.startPlaybackLocked(parent)
	}
	s.playMu.Unlock()

	s.logger.Info("Session reset", "abandoned_stream", abandoned, "playback_restarted", wasPlaying)
	s.record(domain.TranscriptEntry{Kind: domain.EntryReset, Meta: map[string]any{"abandoned_stream": abandoned}})
	s.render()
}

// Close stops background work and abandons any in-flight stream.
func (s *Session) Close() {
	s.StopPlayback()
	if s.chat != nil {
		s.chat.Abandon()
	}
}

// InFlight reports whether a streaming request is active.
func (s *Session) InFlight() bool {
	return s.chat != nil && s.chat.Active() != nil
}

// Messages returns a snapshot of the conversation.
func (s *Session) Messages() []domain.Message {
	return s.store.Snapshot()
}

func (s *Session) record(entry domain.TranscriptEntry) {
	if s.journal == nil {
		return
	}
	entry.SessionID = s.id
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.journal.Record(entry)
}

// render publishes a fresh View. Concurrent renders are serialized so that
// the view a renderer receives last is never older than one it already got.
func (s *Session) render() {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.Lock()
	r := s.renderer
	s.mu.Unlock()
	if r == nil {
		return
	}
	r.Render(s.View())
}
