package tutor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
	"github.com/google/uuid"
)

// ModelLister returns the identifiers of the locally installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ChatStreamer opens one streaming chat completion and yields text fragments
// in arrival order. The sequence ends on end-of-stream or after one error.
type ChatStreamer interface {
	StreamChat(ctx context.Context, model string, messages []domain.Message) iter.Seq2[string, error]
}

// ModelBackend is the external model service as seen by the tutor.
type ModelBackend interface {
	ModelLister
	ChatStreamer
}

// Status is the outcome of a streaming request.
type Status string

const (
	// StatusCompleted: the assembled answer was appended to the store.
	StatusCompleted Status = "completed"
	// StatusFailed: the backend failed; nothing was appended.
	StatusFailed Status = "failed"
	// StatusRejected: the request never started; nothing was appended.
	StatusRejected Status = "rejected"
	// StatusAbandoned: the request was cancelled or reset; nothing was appended.
	StatusAbandoned Status = "abandoned"
)

// Result reports how a streaming request ended. Content holds the assembled
// answer on completion and whatever partial text arrived otherwise.
type Result struct {
	Status    Status
	RequestID string
	Model     string
	Content   string
	Chunks    int
	Duration  time.Duration
	Err       error
}

// OK returns true if the answer was appended.
func (r Result) OK() bool {
	return r.Status == StatusCompleted
}

// ChunkFunc receives each fragment together with the text assembled so far.
type ChunkFunc func(chunk, partial string)

// StreamRequest is the single in-flight request slot of an Orchestrator.
type StreamRequest struct {
	ID      string
	Model   string
	History []domain.Message
	Started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	partial strings.Builder
	chunks  int
}

// Partial returns the text received so far.
func (r *StreamRequest) Partial() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial.String()
}

func (r *StreamRequest) write(chunk string) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial.WriteString(chunk)
	r.chunks++
	return r.partial.String(), r.chunks
}

func (r *StreamRequest) result(status Status, err error) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		Status:    status,
		RequestID: r.ID,
		Model:     r.Model,
		Content:   r.partial.String(),
		Chunks:    r.chunks,
		Duration:  time.Since(r.Started),
		Err:       err,
	}
}

// Orchestrator relays one streaming chat request at a time to the model
// backend and appends the assembled answer to a MessageStore.
type Orchestrator struct {
	backend ModelBackend
	logger  *slog.Logger

	mu     sync.Mutex
	active *StreamRequest
}

// NewOrchestrator creates an orchestrator for backend.
func NewOrchestrator(backend ModelBackend, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{backend: backend, logger: logger}
}

// Models lists installed models, failing with ErrNoModelsAvailable when none are.
func (o *Orchestrator) Models(ctx context.Context) ([]string, error) {
	models, err := o.backend.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %w", ErrModelUnavailable, err)
	}
	if len(models) == 0 {
		return nil, ErrNoModelsAvailable
	}
	return models, nil
}

// Begin validates model and claims the in-flight slot. The returned request
// must be passed to Stream, which releases the slot.
func (o *Orchestrator) Begin(ctx context.Context, model string) (*StreamRequest, error) {
	models, err := o.Models(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(models, model) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		o.logger.Warn("Rejected concurrent streaming request",
			"active_request_id", o.active.ID,
			"model", model,
		)
		return nil, ErrStreamInFlight
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req := &StreamRequest{
		ID:      uuid.NewString(),
		Model:   model,
		Started: time.Now(),
		ctx:     reqCtx,
		cancel:  cancel,
	}
	o.active = req
	return req, nil
}

// Stream sends history for req and relays fragments to onChunk as they
// arrive. On success exactly one assistant message holding the concatenated
// fragments is appended to store. On failure or abandonment nothing is.
func (o *Orchestrator) Stream(req *StreamRequest, history []domain.Message, store *MessageStore, onChunk ChunkFunc) Result {
	defer o.release(req)

	if len(history) == 0 {
		return req.result(StatusRejected, ErrEmptyHistory)
	}
	req.History = slices.Clone(history)

	o.logger.Debug("Streaming request started",
		"request_id", req.ID,
		"model", req.Model,
		"history_len", len(req.History),
	)

	for chunk, err := range o.backend.StreamChat(req.ctx, req.Model, req.History) {
		if err != nil {
			if req.ctx.Err() != nil {
				return req.result(StatusAbandoned, req.ctx.Err())
			}
			o.logger.Error("Model stream failed", "request_id", req.ID, "model", req.Model, "error", err)
			return req.result(StatusFailed, fmt.Errorf("%w: %w", ErrModelUnavailable, err))
		}
		if chunk == "" {
			continue
		}
		partial, _ := req.write(chunk)
		if onChunk != nil {
			onChunk(chunk, partial)
		}
	}
	if err := req.ctx.Err(); err != nil {
		return req.result(StatusAbandoned, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != req {
		return req.result(StatusAbandoned, context.Canceled)
	}
	store.Append(domain.RoleAssistant, req.Partial())
	o.active = nil
	return req.result(StatusCompleted, nil)
}

// Active returns the in-flight request, or nil.
func (o *Orchestrator) Active() *StreamRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Abandon cancels the in-flight request, if any, so that it appends nothing.
// It reports whether a request was abandoned.
func (o *Orchestrator) Abandon() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return false
	}
	o.logger.Info("Abandoning streaming request", "request_id", o.active.ID)
	o.active.cancel()
	o.active = nil
	return true
}

func (o *Orchestrator) release(req *StreamRequest) {
	req.cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == req {
		o.active = nil
	}
}

// IsBackendError reports whether err came from the model backend rather than
// from a rejected precondition.
func IsBackendError(err error) bool {
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrNoModelsAvailable)
}
