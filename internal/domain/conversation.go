package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single persisted entry in a conversation. Messages are
// append-only and never rewritten.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the ordered history for one (session, user) pair. At most
// one Conversation exists per pair.
type Conversation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessages converts the stored history into gateway messages, skipping
// entries with an unknown role. Empty replies are kept so turns still
// alternate.
func (c *Conversation) ChatMessages() []ChatMessage {
	if c == nil {
		return nil
	}
	out := make([]ChatMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			continue
		}
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
