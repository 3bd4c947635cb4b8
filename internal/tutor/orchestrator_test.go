package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
)

func history(text string) []domain.Message {
	return []domain.Message{domain.NewMessage(domain.RoleUser, text)}
}

func TestOrchestrator_StreamAppendsOneMessage(t *testing.T) {
	backend := newFakeBackend("Hel", "lo", " there")
	o := NewOrchestrator(backend, nil)
	store := NewMessageStore()

	req, err := o.Begin(context.Background(), "llama3")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	var partials []string
	res := o.Stream(req, history("hi"), store, func(_, partial string) {
		partials = append(partials, partial)
	})

	if !res.OK() {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Content != "Hello there" || res.Chunks != 3 {
		t.Errorf("content = %q chunks = %d", res.Content, res.Chunks)
	}
	if strings.Join(partials, "|") != "Hel|Hello|Hello there" {
		t.Errorf("partials = %v", partials)
	}
	msgs := store.Snapshot()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleAssistant || msgs[0].Content != "Hello there" {
		t.Errorf("store = %+v", msgs)
	}
	if o.Active() != nil {
		t.Error("slot not released")
	}
}

func TestOrchestrator_FailureAppendsNothing(t *testing.T) {
	backend := newFakeBackend("partial ")
	backend.streamErr = errors.New("connection reset")
	o := NewOrchestrator(backend, nil)
	store := NewMessageStore()

	req, err := o.Begin(context.Background(), "llama3")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	res := o.Stream(req, history("hi"), store, nil)

	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Err, ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", res.Err)
	}
	if res.Content != "partial " {
		t.Errorf("partial content = %q", res.Content)
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
}

func TestOrchestrator_RejectsConcurrentRequest(t *testing.T) {
	backend := newFakeBackend("a", "b")
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{})
	o := NewOrchestrator(backend, nil)
	store := NewMessageStore()

	req, err := o.Begin(context.Background(), "llama3")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	done := make(chan Result)
	go func() { done <- o.Stream(req, history("first"), store, nil) }()
	<-backend.started

	if _, err := o.Begin(context.Background(), "llama3"); !errors.Is(err, ErrStreamInFlight) {
		t.Fatalf("second Begin err = %v, want ErrStreamInFlight", err)
	}

	close(backend.gate)
	res := <-done
	if !res.OK() || res.Content != "ab" {
		t.Fatalf("first request = %s %q", res.Status, res.Content)
	}
	if store.Len() != 1 {
		t.Errorf("store len = %d, want 1", store.Len())
	}
}

func TestOrchestrator_AbandonDiscardsPartial(t *testing.T) {
	backend := newFakeBackend("a", "b")
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{})
	o := NewOrchestrator(backend, nil)
	store := NewMessageStore()

	req, _ := o.Begin(context.Background(), "llama3")
	done := make(chan Result)
	go func() { done <- o.Stream(req, history("x"), store, nil) }()
	<-backend.started

	if !o.Abandon() {
		t.Fatal("Abandon() = false")
	}
	select {
	case res := <-done:
		if res.Status != StatusAbandoned {
			t.Errorf("status = %s, want abandoned", res.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
	if _, err := o.Begin(context.Background(), "llama3"); err != nil {
		t.Errorf("Begin after abandon: %v", err)
	}
}

func TestOrchestrator_BeginValidation(t *testing.T) {
	backend := newFakeBackend()
	o := NewOrchestrator(backend, nil)

	if _, err := o.Begin(context.Background(), "missing"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("unknown model err = %v", err)
	}

	backend.models = nil
	if _, err := o.Begin(context.Background(), "llama3"); !errors.Is(err, ErrNoModelsAvailable) {
		t.Errorf("no models err = %v", err)
	}

	backend.listErr = errors.New("dial tcp: refused")
	_, err := o.Models(context.Background())
	if !errors.Is(err, ErrModelUnavailable) || !IsBackendError(err) {
		t.Errorf("list failure err = %v", err)
	}
}

func TestOrchestrator_EmptyHistoryRejected(t *testing.T) {
	o := NewOrchestrator(newFakeBackend("x"), nil)
	req, _ := o.Begin(context.Background(), "llama3")
	res := o.Stream(req, nil, NewMessageStore(), nil)
	if res.Status != StatusRejected || !errors.Is(res.Err, ErrEmptyHistory) {
		t.Errorf("result = %s %v", res.Status, res.Err)
	}
	if o.Active() != nil {
		t.Error("slot not released")
	}
}
