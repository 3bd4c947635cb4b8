package tutor

import "github.com/ashureev/learnitall/internal/domain"

// Avatar is the display tag shown next to a rendered message.
type Avatar string

const (
	AvatarAssistant Avatar = "🤖"
	AvatarUser      Avatar = "😎"
)

// ResolveAvatar returns the avatar for messages[i].
//
// Assistant turns always get the assistant avatar. User turns get the user
// avatar, except the very first message of a session: with no earlier turn to
// attribute it to, it falls back to the assistant avatar.
func ResolveAvatar(messages []domain.Message, i int) Avatar {
	if i <= 0 || i >= len(messages) {
		return AvatarAssistant
	}
	if messages[i].Role == domain.RoleUser {
		return AvatarUser
	}
	return AvatarAssistant
}

// RenderedMessage is a message paired with its resolved avatar.
type RenderedMessage struct {
	Index   int         `json:"index"`
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
	Avatar  Avatar      `json:"avatar"`
}

// RenderMessages resolves avatars for a whole snapshot, in order.
func RenderMessages(messages []domain.Message) []RenderedMessage {
	out := make([]RenderedMessage, len(messages))
	for i, msg := range messages {
		out[i] = RenderedMessage{
			Index:   i,
			Role:    msg.Role,
			Content: msg.Content,
			Avatar:  ResolveAvatar(messages, i),
		}
	}
	return out
}
