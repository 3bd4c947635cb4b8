package tutor

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
)

type fakeBackend struct {
	mu        sync.Mutex
	models    []string
	listErr   error
	chunks    []string
	streamErr error
	// gate, when set, blocks the stream after the first chunk until closed.
	gate    chan struct{}
	started chan struct{}
	calls   [][]domain.Message
}

func newFakeBackend(chunks ...string) *fakeBackend {
	return &fakeBackend{models: []string{"llama3", "qwen2"}, chunks: chunks}
}

func (f *fakeBackend) ListModels(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return slices.Clone(f.models), nil
}

func (f *fakeBackend) StreamChat(ctx context.Context, _ string, messages []domain.Message) iter.Seq2[string, error] {
	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(messages))
	chunks := slices.Clone(f.chunks)
	streamErr := f.streamErr
	gate := f.gate
	started := f.started
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for i, c := range chunks {
			if !yield(c, nil) {
				return
			}
			if i == 0 && gate != nil {
				if started != nil {
					close(started)
				}
				select {
				case <-gate:
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
		}
		if streamErr != nil {
			yield("", streamErr)
		}
	}
}

func (f *fakeBackend) lastCall() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type countingPacer struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (p *countingPacer) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	p.pauses = append(p.pauses, d)
	p.mu.Unlock()
}

func (p *countingPacer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pauses)
}

type memJournal struct {
	mu      sync.Mutex
	entries []domain.TranscriptEntry
}

func (j *memJournal) Record(e domain.TranscriptEntry) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
}

func (j *memJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.Kind
	}
	return out
}

func testScript() []domain.ScriptEntry {
	return []domain.ScriptEntry{
		{
			Prompt: domain.Turn{Text: "How do I print?"},
			Answer: domain.Turn{Text: "Use print.", Code: `print("hi")`},
		},
		{
			Prompt: domain.Turn{Text: "Fix this", Code: "x = 1 +"},
			Answer: domain.Turn{Text: "Add an operand."},
		},
		{
			Prompt: domain.Turn{Text: "Thanks"},
			Answer: domain.Turn{Text: "You're welcome."},
		},
	}
}

func testExercises() []domain.Exercise {
	return []domain.Exercise{
		{ID: "sum", Title: "Sum", Code: "def add(a, b):\n    return a - b"},
		{ID: "loop", Title: "Loop", Code: "for i in range(3) print(i)"},
		{ID: "fact", Title: "Factorial", Code: "def fact(n):\n    return n * fact(n)"},
	}
}

// holdPacer pauses until ctx is done.
type holdPacer struct{}

func (holdPacer) Pause(ctx context.Context, _ time.Duration) { <-ctx.Done() }
