package promptkit

import "promptkit/internal/core"

// Message roles
const (
	RoleSystem    = core.RoleSystem
	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is either Text or Messages.
type Prompt interface {
	messages() []core.Message
}

// Text is a single user message.
type Text string

func (t Text) messages() []core.Message {
	return []core.Message{{Role: core.RoleUser, Content: string(t)}}
}

// Messages is a full conversation sent as-is.
type Messages []Message

func (m Messages) messages() []core.Message {
	out := make([]core.Message, len(m))
	for i, msg := range m {
		out[i] = core.Message{Role: msg.Role, Content: msg.Content}
	}
	return out
}
