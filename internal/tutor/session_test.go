package tutor

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
)

func newChatSession(t *testing.T, backend *fakeBackend, journal Journal) *Session {
	t.Helper()
	s, err := NewSession(backend, Options{
		Mode:      ModeChat,
		Exercises: testExercises(),
		Journal:   journal,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func newScriptedSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(nil, Options{
		Mode:      ModeScripted,
		Script:    testScript(),
		Exercises: testExercises(),
		Pacer:     &countingPacer{},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeChat, "chat": ModeChat, " Scripted ": ModeScripted} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseMode("karaoke"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestSession_SendChatSendsWholeConversation(t *testing.T) {
	backend := newFakeBackend("Sure", ".")
	journal := &memJournal{}
	s := newChatSession(t, backend, journal)

	res := s.SendChat(context.Background(), "first question", nil)
	if !res.OK() {
		t.Fatalf("first chat: %s %v", res.Status, res.Err)
	}
	res = s.SendChat(context.Background(), "second question", nil)
	if !res.OK() {
		t.Fatalf("second chat: %s %v", res.Status, res.Err)
	}

	msgs := s.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[3].Role != domain.RoleAssistant || msgs[3].Content != "Sure." {
		t.Errorf("last message = %+v", msgs[3])
	}
	sent := backend.lastCall()
	if len(sent) != 3 || sent[2].Content != "second question" {
		t.Errorf("second request history = %+v", sent)
	}
	if s.Model() != "llama3" {
		t.Errorf("model = %q, want first listed", s.Model())
	}

	kinds := journal.kinds()
	if !slices.Contains(kinds, domain.EntryStreamCompleted) {
		t.Errorf("journal kinds = %v", kinds)
	}
}

func TestSession_TutorMarkerEmbedsSubmittedCode(t *testing.T) {
	backend := newFakeBackend("ok")
	s := newChatSession(t, backend, nil)
	s.SubmitCode("def add(a, b):\n    return a + b")

	if res := s.SendChat(context.Background(), "[tutor] is this right?", nil); !res.OK() {
		t.Fatalf("chat: %v", res.Err)
	}
	first := s.Messages()[0].Content
	if !strings.Contains(first, "return a + b") || !strings.Contains(first, "100 words") {
		t.Errorf("tutor prompt = %q", first)
	}

	res := s.SendChat(context.Background(), "plain question", nil)
	if !res.OK() {
		t.Fatalf("chat: %v", res.Err)
	}
	if got := s.Messages()[2].Content; got != "plain question" {
		t.Errorf("plain message rewritten: %q", got)
	}
}

func TestSession_ReviewIsIsolated(t *testing.T) {
	backend := newFakeBackend("Looks ", "wrong.")
	s := newChatSession(t, backend, nil)

	if res := s.SendChat(context.Background(), "hello", nil); !res.OK() {
		t.Fatalf("chat: %v", res.Err)
	}
	s.NextExercise()

	res := s.RequestReview(context.Background(), nil)
	if !res.OK() {
		t.Fatalf("review: %s %v", res.Status, res.Err)
	}

	sent := backend.lastCall()
	if len(sent) != 1 {
		t.Fatalf("review history len = %d, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Content, "for i in range(3) print(i)") {
		t.Errorf("review prompt missing exercise code: %q", sent[0].Content)
	}

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[2].Role != domain.RoleAssistant || msgs[2].Content != "Looks wrong." {
		t.Errorf("review answer = %+v", msgs[2])
	}
}

func TestSession_FailureMarksTurn(t *testing.T) {
	backend := newFakeBackend()
	backend.streamErr = errors.New("boom")
	s := newChatSession(t, backend, nil)

	res := s.SendChat(context.Background(), "hi", nil)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if s.Messages()[0].Content != "hi" || len(s.Messages()) != 1 {
		t.Errorf("messages = %+v", s.Messages())
	}
	v := s.View()
	if v.Error == nil || v.Error.MessageIndex != 0 || v.Error.Kind != "chat" {
		t.Fatalf("view error = %+v", v.Error)
	}

	backend.streamErr = nil
	backend.chunks = []string{"fine"}
	if res := s.SendChat(context.Background(), "retry", nil); !res.OK() {
		t.Fatalf("retry: %v", res.Err)
	}
	if s.View().Error != nil {
		t.Error("error not cleared by next turn")
	}
}

func TestSession_NoModels(t *testing.T) {
	backend := newFakeBackend("x")
	backend.models = nil
	s := newChatSession(t, backend, nil)

	if _, err := s.Models(context.Background()); !errors.Is(err, ErrNoModelsAvailable) {
		t.Errorf("Models err = %v", err)
	}
	res := s.SendChat(context.Background(), "hi", nil)
	if res.Status != StatusRejected || !errors.Is(res.Err, ErrNoModelsAvailable) {
		t.Errorf("SendChat = %s %v", res.Status, res.Err)
	}
	if len(s.Messages()) != 0 {
		t.Error("rejected chat appended a message")
	}
}

func TestSession_SelectModel(t *testing.T) {
	s := newChatSession(t, newFakeBackend("x"), nil)
	if err := s.SelectModel(context.Background(), "qwen2"); err != nil {
		t.Fatalf("SelectModel: %v", err)
	}
	if s.Model() != "qwen2" {
		t.Errorf("model = %q", s.Model())
	}
	if err := s.SelectModel(context.Background(), "gpt-9"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("err = %v, want ErrUnknownModel", err)
	}
}

func TestSession_ConcurrentChatRejected(t *testing.T) {
	backend := newFakeBackend("a", "b")
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{})
	s := newChatSession(t, backend, nil)

	done := make(chan Result)
	go func() { done <- s.SendChat(context.Background(), "first", nil) }()
	<-backend.started

	if !s.InFlight() || !s.View().Streaming {
		t.Error("expected in-flight stream")
	}
	res := s.SendChat(context.Background(), "second", nil)
	if !errors.Is(res.Err, ErrStreamInFlight) {
		t.Errorf("second chat err = %v", res.Err)
	}

	close(backend.gate)
	if first := <-done; !first.OK() {
		t.Fatalf("first chat: %v", first.Err)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Content != "first" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSession_ResetAbandonsStream(t *testing.T) {
	backend := newFakeBackend("a", "b")
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{})
	journal := &memJournal{}
	s := newChatSession(t, backend, journal)
	s.NextExercise()
	s.SubmitCode("x = 1")

	done := make(chan Result)
	go func() { done <- s.SendChat(context.Background(), "hi", nil) }()
	<-backend.started

	s.Reset()
	res := <-done
	if res.Status != StatusAbandoned {
		t.Errorf("status = %s, want abandoned", res.Status)
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("messages after reset = %d", n)
	}
	v := s.View()
	if v.Exercise.Index != 0 || v.Exercise.Submitted != "" {
		t.Errorf("exercise view = %+v", v.Exercise)
	}
	if !slices.Contains(journal.kinds(), domain.EntryReset) {
		t.Errorf("journal kinds = %v", journal.kinds())
	}
}

func TestSession_ModesAreExclusive(t *testing.T) {
	chat := newChatSession(t, newFakeBackend(), nil)
	if _, err := chat.Tick(context.Background()); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Tick in chat mode err = %v", err)
	}
	if err := chat.StartPlayback(context.Background()); !errors.Is(err, ErrWrongMode) {
		t.Errorf("StartPlayback in chat mode err = %v", err)
	}

	scripted := newScriptedSession(t)
	if res := scripted.SendChat(context.Background(), "hi", nil); !errors.Is(res.Err, ErrWrongMode) {
		t.Errorf("SendChat in scripted mode err = %v", res.Err)
	}
	if res := scripted.RequestReview(context.Background(), nil); !errors.Is(res.Err, ErrWrongMode) {
		t.Errorf("RequestReview in scripted mode err = %v", res.Err)
	}

	if _, err := NewSession(nil, Options{Mode: ModeChat, Exercises: testExercises()}); err == nil {
		t.Error("chat session without backend should fail")
	}
}

func TestSession_TickUpdatesSnippet(t *testing.T) {
	s := newScriptedSession(t)

	ok, err := s.Tick(context.Background())
	if err != nil || !ok {
		t.Fatalf("Tick = %v, %v", ok, err)
	}
	v := s.View()
	if v.Snippet != `print("hi")` {
		t.Errorf("snippet = %q", v.Snippet)
	}
	if v.Playback == nil || v.Playback.Cursor != 1 || v.Playback.Total != 3 {
		t.Errorf("playback = %+v", v.Playback)
	}
}

func TestSession_PlaybackRunsToEnd(t *testing.T) {
	s := newScriptedSession(t)

	var mu sync.Mutex
	renders := 0
	s.SetRenderer(RendererFunc(func(View) {
		mu.Lock()
		renders++
		mu.Unlock()
	}))

	if err := s.StartPlayback(context.Background()); err != nil {
		t.Fatalf("StartPlayback: %v", err)
	}
	waitFor(t, func() bool { return s.View().Playback.Done })
	waitFor(t, func() bool { return !s.View().Playback.Running })

	if n := len(s.Messages()); n != 8 {
		t.Errorf("messages = %d, want 8", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if renders < 6 {
		t.Errorf("renders = %d, want at least one per group", renders)
	}
}

func TestSession_ResetRestartsPlayback(t *testing.T) {
	s := newScriptedSession(t)
	if err := s.StartPlayback(context.Background()); err != nil {
		t.Fatalf("StartPlayback: %v", err)
	}
	waitFor(t, func() bool { return s.View().Playback.Done })

	s.Reset()
	waitFor(t, func() bool { return s.View().Playback.Done })
	if n := len(s.Messages()); n != 8 {
		t.Errorf("messages after replay = %d, want 8", n)
	}
	s.Close()
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	created := 0
	r := NewRegistry(func(string) (*Session, error) {
		created++
		return NewSession(newFakeBackend(), Options{Exercises: testExercises()})
	}, false, nil)
	defer r.Close()

	a, err := r.Get("client-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, _ := r.Get("client-a")
	if a != b || created != 1 {
		t.Errorf("expected one session, created %d", created)
	}
	if _, ok := r.Lookup("client-b"); ok {
		t.Error("Lookup created a session")
	}
	r.Get("client-b")
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestSession_ReviewFailureHasNoTurn(t *testing.T) {
	backend := newFakeBackend("partial")
	backend.streamErr = errors.New("connection reset")
	s := newChatSession(t, backend, nil)

	res := s.RequestReview(context.Background(), nil)
	if res.Status != StatusFailed || !errors.Is(res.Err, ErrModelUnavailable) {
		t.Fatalf("review = %s %v", res.Status, res.Err)
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
	v := s.View()
	if v.Error == nil || v.Error.MessageIndex != -1 || v.Error.Kind != "review" {
		t.Errorf("view error = %+v", v.Error)
	}
}

func TestSession_ResetBeforeTurnIsAppended(t *testing.T) {
	journal := &memJournal{}
	s := newChatSession(t, newFakeBackend("ok"), journal)
	s.afterBegin = func() { s.Reset() }

	res := s.SendChat(context.Background(), "hi", nil)
	if res.Status != StatusAbandoned {
		t.Errorf("status = %s, want abandoned", res.Status)
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("messages = %+v, want none", s.Messages())
	}
	if !slices.Contains(journal.kinds(), domain.EntryStreamAbandoned) {
		t.Errorf("journal kinds = %v", journal.kinds())
	}

	s.afterBegin = nil
	if res := s.SendChat(context.Background(), "again", nil); !res.OK() {
		t.Fatalf("chat after reset: %s %v", res.Status, res.Err)
	}
	if n := len(s.Messages()); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
}

func TestSession_ResetRacingChatLeavesNoOrphanTurn(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := newChatSession(t, newFakeBackend("a", "b"), nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SendChat(context.Background(), "hi", nil)
		}()
		go func() {
			defer wg.Done()
			s.Reset()
		}()
		wg.Wait()

		// Either the whole exchange survived or none of it did.
		if msgs := s.Messages(); len(msgs) == 1 {
			t.Fatalf("run %d: orphan turn %+v", i, msgs)
		}
		if s.InFlight() {
			t.Fatalf("run %d: slot still claimed", i)
		}
	}
}

func TestSession_StepRefusedWhilePlaying(t *testing.T) {
	s, err := NewSession(nil, Options{
		Mode:      ModeScripted,
		Script:    testScript(),
		Exercises: testExercises(),
		Pacer:     holdPacer{},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.StartPlayback(context.Background()); err != nil {
		t.Fatalf("StartPlayback: %v", err)
	}
	waitFor(t, func() bool { return len(s.Messages()) > 0 })

	if _, err := s.Step(context.Background()); !errors.Is(err, ErrPlaybackRunning) {
		t.Errorf("Step while playing err = %v", err)
	}

	s.StopPlayback()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	advanced, err := s.Step(ctx)
	if err != nil || !advanced {
		t.Errorf("Step after stop = %v, %v", advanced, err)
	}
}

func TestSession_LastRenderIsLatest(t *testing.T) {
	s := newChatSession(t, newFakeBackend(), nil)

	var mu sync.Mutex
	var last View
	s.SetRenderer(RendererFunc(func(v View) {
		mu.Lock()
		last = v
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SubmitCode(strings.Repeat("x", i+1))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got, want := last.Exercise.Submitted, s.View().Exercise.Submitted; got != want {
		t.Errorf("last rendered submission = %q, want %q", got, want)
	}
}

func TestRegistry_SweepClosesIdleSessions(t *testing.T) {
	r := NewRegistry(func(string) (*Session, error) {
		return NewSession(nil, Options{
			Mode:      ModeScripted,
			Script:    testScript(),
			Exercises: testExercises(),
			Pacer:     holdPacer{},
		})
	}, true, nil)
	defer r.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	idle, err := r.Get("idle")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	waitFor(t, func() bool { return idle.View().Playback.Running })
	r.Get("busy")

	now = now.Add(20 * time.Minute)
	if !r.Touch("busy") {
		t.Fatal("Touch reported a missing session")
	}
	now = now.Add(15 * time.Minute)

	if n := r.Sweep(30 * time.Minute); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if _, ok := r.Lookup("idle"); ok {
		t.Error("idle session still registered")
	}
	if _, ok := r.Lookup("busy"); !ok {
		t.Error("recently used session was swept")
	}
	if idle.View().Playback.Running {
		t.Error("swept session is still playing")
	}
	if r.Touch("idle") {
		t.Error("Touch found a swept session")
	}
}

func TestRegistry_SweepKeepsStreamingSessions(t *testing.T) {
	backend := newFakeBackend("a", "b")
	backend.gate = make(chan struct{})
	backend.started = make(chan struct{})
	r := NewRegistry(func(string) (*Session, error) {
		return NewSession(backend, Options{Exercises: testExercises()})
	}, false, nil)
	defer r.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	s, _ := r.Get("learner")
	done := make(chan Result)
	go func() { done <- s.SendChat(context.Background(), "hi", nil) }()
	<-backend.started

	now = now.Add(time.Hour)
	if n := r.Sweep(time.Minute); n != 0 {
		t.Errorf("swept = %d, want 0 while streaming", n)
	}
	close(backend.gate)
	if res := <-done; !res.OK() {
		t.Fatalf("chat: %v", res.Err)
	}
	if n := r.Sweep(time.Minute); n != 1 {
		t.Errorf("swept = %d, want 1 once idle", n)
	}
}
