// Package session holds the message model and the event-driven state machine
// for a single conversation with the remote agent.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UnmarshalJSON normalizes the remote history vocabulary ("HumanMessage",
// "AIMessage") to the canonical roles so endpoint payloads decode directly
// into Message.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "HumanMessage":
		*r = RoleUser
	case "AIMessage":
		*r = RoleAssistant
	default:
		*r = Role(s)
	}
	return nil
}

// RefKind distinguishes citation sources.
type RefKind string

const (
	RefNote RefKind = "note"
	RefWeb  RefKind = "web"
)

// Reference is a citation attached to an assistant message. References are
// accumulated during streaming and attached only at finalization.
type Reference struct {
	Kind    RefKind `json:"kind"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
}

// Message is one transcript entry. Once appended to the transcript a Message
// is immutable: it is never mutated and never deleted individually, only
// bulk-cleared.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	NoteLinks []Reference `json:"noteLinks,omitempty"`
	WebLinks  []Reference `json:"webLinks,omitempty"`
}

// NewMessage creates a Message with a unique UUIDv7 identifier and the given
// creation instant.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}
