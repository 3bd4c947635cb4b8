package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/ashureev/learnitall/internal/domain"
	"github.com/ashureev/learnitall/internal/store"
	"github.com/ashureev/learnitall/internal/tutor"
)

var (
	titleColor     = color.New(color.FgCyan, color.Bold)
	hintColor      = color.New(color.FgHiBlack)
	assistantColor = color.New(color.FgGreen)
	userColor      = color.New(color.FgYellow)
	codeColor      = color.New(color.FgMagenta)
	errorColor     = color.New(color.FgRed, color.Bold)
	infoColor      = color.New(color.FgBlue)
)

// terminal renders session output as a scrolling transcript. As a
// tutor.Renderer it prints only messages it has not printed yet.
type terminal struct {
	out io.Writer

	mu      sync.Mutex
	printed int
	snippet string
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

// Render implements tutor.Renderer.
func (t *terminal) Render(v tutor.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(v.Messages) < t.printed {
		// Reset.
		t.printed = 0
		t.snippet = ""
	}
	for _, m := range v.Messages[t.printed:] {
		t.message(m)
	}
	t.printed = len(v.Messages)

	if v.Snippet != "" && v.Snippet != t.snippet {
		t.snippet = v.Snippet
		codeColor.Fprintln(t.out, indent(v.Snippet))
	}
	if v.Playback != nil && v.Playback.Done {
		hintColor.Fprintf(t.out, "(%d/%d, end of lesson)\n", v.Playback.Cursor, v.Playback.Total)
	}
}

func (t *terminal) message(m tutor.RenderedMessage) {
	c := assistantColor
	if m.Role == domain.RoleUser {
		c = userColor
	}
	fmt.Fprintf(t.out, "%s ", m.Avatar)
	c.Fprintln(t.out, m.Content)
}

func (t *terminal) Banner(title, hint string) {
	titleColor.Fprintln(t.out, title)
	if hint != "" {
		hintColor.Fprintln(t.out, hint)
	}
	fmt.Fprintln(t.out)
}

func (t *terminal) Exercise(ex tutor.ExerciseView) {
	name := ex.Title
	if name == "" {
		name = ex.ID
	}
	titleColor.Fprintf(t.out, "Exercise %d/%d: %s\n", ex.Index+1, ex.Total, name)
	code := ex.Code
	if ex.Submitted != "" {
		code = ex.Submitted
	}
	codeColor.Fprintln(t.out, indent(code))
}

func (t *terminal) Prompt() {
	userColor.Fprint(t.out, "> ")
}

func (t *terminal) Info(msg string) {
	infoColor.Fprintln(t.out, msg)
}

func (t *terminal) Error(err error) {
	errorColor.Fprintln(t.out, "error: "+err.Error())
}

// Chunk prints streamed text as it arrives.
func (t *terminal) Chunk(chunk, partial string) {
	if len(partial) == len(chunk) {
		fmt.Fprintf(t.out, "%s ", tutor.AvatarAssistant)
	}
	assistantColor.Fprint(t.out, chunk)
}

// Stream finishes the line started by Chunk and reports the outcome.
func (t *terminal) Stream(res tutor.Result) {
	if res.Chunks > 0 {
		fmt.Fprintln(t.out)
	}
	switch res.Status {
	case tutor.StatusCompleted:
		hintColor.Fprintf(t.out, "(%s, %d chunks, %s)\n", res.Model, res.Chunks, res.Duration.Round(time.Millisecond))
	case tutor.StatusAbandoned:
		infoColor.Fprintln(t.out, "(interrupted)")
	default:
		if res.Err != nil {
			t.Error(res.Err)
		}
	}
}

func (t *terminal) Sessions(sessions []store.SessionSummary) {
	if len(sessions) == 0 {
		infoColor.Fprintln(t.out, "no sessions recorded")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(t.out, "%s  ", s.SessionID)
		hintColor.Fprintf(t.out, "%4d entries  %s .. %s\n", s.Entries,
			s.FirstAt.Local().Format(time.DateTime), s.LastAt.Local().Format(time.DateTime))
	}
}

func (t *terminal) Entries(entries []domain.TranscriptEntry) {
	for _, e := range entries {
		hintColor.Fprintf(t.out, "%s ", e.CreatedAt.Local().Format(time.TimeOnly))
		switch {
		case e.Kind == domain.EntryMessage && e.Role == domain.RoleUser:
			userColor.Fprintln(t.out, e.Content)
		case e.Kind == domain.EntryMessage:
			assistantColor.Fprintln(t.out, e.Content)
		case e.Kind == domain.EntryStreamFailed || e.Kind == domain.EntryStreamRejected:
			errorColor.Fprintf(t.out, "[%s] %v\n", e.Kind, e.Meta["error"])
		default:
			infoColor.Fprintf(t.out, "[%s]\n", e.Kind)
		}
	}
}

func printWarn(out io.Writer, msg string) {
	color.New(color.FgYellow).Fprintln(out, msg)
}

func indent(code string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

type command struct {
	name string
	arg  string
}

// parseCommand turns an input line into a command. Lines starting with ':'
// are commands; anything else is a chat message.
func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{}
	}
	if !strings.HasPrefix(trimmed, ":") {
		return command{name: "chat", arg: line}
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(trimmed, ":"), " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}
