package tutor

// TurnError marks a turn whose model request failed, so the failure can be
// shown next to it. MessageIndex is -1 for review requests, which have no
// turn of their own in the conversation.
type TurnError struct {
	MessageIndex int    `json:"message_index"`
	Kind         string `json:"kind"`
	Reason       string `json:"reason"`
}

// ExerciseView describes the current exercise.
type ExerciseView struct {
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Code      string `json:"code"`
	Submitted string `json:"submitted,omitempty"`
}

// PlaybackView reports scripted playback progress.
type PlaybackView struct {
	Cursor  int  `json:"cursor"`
	Total   int  `json:"total"`
	Done    bool `json:"done"`
	Running bool `json:"running"`
}

// View is everything a renderer needs to redraw the session.
type View struct {
	SessionID string            `json:"session_id"`
	Mode      Mode              `json:"mode"`
	Model     string            `json:"model,omitempty"`
	Messages  []RenderedMessage `json:"messages"`
	Exercise  ExerciseView      `json:"exercise"`
	Streaming bool              `json:"streaming"`
	Partial   string            `json:"partial,omitempty"`
	Playback  *PlaybackView     `json:"playback,omitempty"`
	Snippet   string            `json:"snippet,omitempty"`
	Error     *TurnError        `json:"error,omitempty"`
}

// View returns a consistent snapshot of the session for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		SessionID: s.id,
		Mode:      s.mode,
		Model:     s.model,
		Messages:  RenderMessages(s.store.Snapshot()),
		Snippet:   s.snippet,
	}

	idx := s.nav.Index()
	v.Exercise = ExerciseView{Index: idx, Total: s.nav.Len(), Submitted: s.submissions[idx]}
	if ex, err := s.nav.Current(); err == nil {
		v.Exercise.ID = ex.ID
		v.Exercise.Title = ex.Title
		v.Exercise.Code = ex.Code
	}

	if s.chat != nil {
		if req := s.chat.Active(); req != nil {
			v.Streaming = true
			v.Partial = req.Partial()
		}
	}
	if s.player != nil {
		v.Playback = &PlaybackView{
			Cursor:  s.player.Cursor(),
			Total:   s.player.Len(),
			Done:    s.player.Done(),
			Running: s.playbackRunning(),
		}
	}
	if s.turnErr != nil {
		te := *s.turnErr
		v.Error = &te
	}
	return v
}

func (s *Session) playbackRunning() bool {
	if !s.playMu.TryLock() {
		// Held by Start/Stop/Reset; report running while a change is underway.
		return true
	}
	defer s.playMu.Unlock()
	if s.playDone == nil {
		return false
	}
	select {
	case <-s.playDone:
		return false
	default:
		return true
	}
}
