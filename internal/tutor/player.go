package tutor

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/learnitall/internal/domain"
)

// DefaultPlaybackDelay paces scripted playback so a reader can follow along.
const DefaultPlaybackDelay = 3 * time.Second

// Pacer waits between the two halves of a playback tick.
type Pacer interface {
	Pause(ctx context.Context, d time.Duration)
}

// TimerPacer pauses on a timer and returns early when ctx is done.
type TimerPacer struct{}

// Pause blocks for d or until ctx is done, whichever comes first.
func (TimerPacer) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// GroupFunc observes each message group as the player appends it.
type GroupFunc func(group []domain.Message)

// Player replays a fixed script of prompt/answer pairs into a MessageStore,
// one pair per tick. It is Playing while Cursor() < Len() and Done afterwards.
type Player struct {
	script []domain.ScriptEntry
	delay  time.Duration
	pacer  Pacer

	mu     sync.Mutex // serializes ticks
	cursor atomic.Int64
}

// NewPlayer creates a player over script. A nil pacer uses TimerPacer.
func NewPlayer(script []domain.ScriptEntry, delay time.Duration, pacer Pacer) *Player {
	if pacer == nil {
		pacer = TimerPacer{}
	}
	if delay < 0 {
		delay = 0
	}
	return &Player{
		script: slices.Clone(script),
		delay:  delay,
		pacer:  pacer,
	}
}

// Cursor returns the number of pairs revealed so far.
func (p *Player) Cursor() int {
	return int(p.cursor.Load())
}

// Len returns the script length.
func (p *Player) Len() int {
	return len(p.script)
}

// Done reports whether every pair has been revealed.
func (p *Player) Done() bool {
	return p.Cursor() >= len(p.script)
}

// Tick reveals the next script pair and reports whether it did. Once Done,
// Tick is a no-op returning false.
//
// The prompt group and the answer group are each appended atomically, with a
// pause after each. Cancelling ctx only cuts the pauses short: a pair that has
// started is always appended in full and the cursor always advances by one.
func (p *Player) Tick(ctx context.Context, store *MessageStore, onGroup GroupFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.Cursor()
	if i >= len(p.script) {
		return false
	}
	entry := p.script[i]

	for _, turn := range []domain.Turn{entry.Prompt, entry.Answer} {
		group := turnMessages(turn)
		store.AppendGroup(group...)
		if onGroup != nil {
			onGroup(group)
		}
		p.pacer.Pause(ctx, p.delay)
	}

	p.cursor.Add(1)
	return true
}

// rewind puts the cursor back to the start of the script.
func (p *Player) rewind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor.Store(0)
}

// turnMessages formats one script turn: its text as a user message, followed
// by its code (if any) as an assistant-authored fenced block.
func turnMessages(turn domain.Turn) []domain.Message {
	group := []domain.Message{domain.NewMessage(domain.RoleUser, turn.Text)}
	if turn.HasCode() {
		group = append(group, domain.NewMessage(domain.RoleAssistant, turn.CodeBlock()))
	}
	return group
}
