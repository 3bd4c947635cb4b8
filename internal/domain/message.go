// Package domain contains core domain types for the learn-it-all tutor.
package domain

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks learner-authored (or script-authored) turns.
	RoleUser Role = "user"
	// RoleAssistant marks tutor/model-authored turns.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single chat turn. Messages are never mutated once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a Message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}
