package tutor

import (
	"slices"
	"sync"

	"github.com/ashureev/learnitall/internal/domain"
)

// MessageStore is the ordered, append-only conversation log of one session.
// It is the single source of truth for what is rendered and what is sent to
// the model on the next chat request.
type MessageStore struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Append adds one message at the end of the log and returns it.
func (s *MessageStore) Append(role domain.Role, content string) domain.Message {
	msg := domain.NewMessage(role, content)
	s.AppendGroup(msg)
	return msg
}

// AppendGroup appends msgs as a single ordered unit. Readers observe either
// none or all of the group.
func (s *MessageStore) AppendGroup(msgs ...domain.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Snapshot returns a point-in-time copy of the log.
func (s *MessageStore) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// clear drops every message. Only a session reset calls it.
func (s *MessageStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}
