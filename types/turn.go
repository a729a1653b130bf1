package types

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is one piece of a turn's content.
type Part struct {
	Type string `json:"type"` // "text", "tool-call", "tool-result", ...
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Turn is a single conversation message produced by a user or the agent.
type Turn struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id,omitempty"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Role       Role      `json:"role"`
	Parts      []Part    `json:"parts"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// NewTurn creates a turn with a fresh id and a single text part.
func NewTurn(role Role, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     []Part{{Type: "text", Text: text}},
		CreatedAt: time.Now(),
	}
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// Normalize fills the id, ownership and timestamp fields that the producer left empty.
func (t Turn) Normalize(resourceID, threadID string) Turn {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ResourceID == "" {
		t.ResourceID = resourceID
	}
	if t.ThreadID == "" {
		t.ThreadID = threadID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return t
}
