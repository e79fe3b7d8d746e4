// Package conversation holds the project-scoped conversation log: turns,
// their completion invariants, retention and persistence.
package conversation

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultLimit is the number of terminal turns retained per project.
const DefaultLimit = 50

var (
	ErrTurnNotFound   = errors.New("turn not found")
	ErrTurnTerminal   = errors.New("turn is already terminal")
	ErrActionNotFound = errors.New("tool action not found")
	ErrInvalidStatus  = errors.New("invalid terminal status")
	ErrStoreClosed    = errors.New("store is closed")
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle status of a turn.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusStopped:
		return true
	}
	return false
}

// ToolActionStatus tracks the approval state of a tool action.
type ToolActionStatus string

const (
	ToolActionPending      ToolActionStatus = "pending"
	ToolActionApproved     ToolActionStatus = "approved"
	ToolActionAutoApproved ToolActionStatus = "auto_approved"
	ToolActionDenied       ToolActionStatus = "denied"
)

// ToolAction is a side-effecting action the agent requested during a turn.
type ToolAction struct {
	ID          string           `json:"id"`
	Tool        string           `json:"tool"`
	Description string           `json:"description"`
	Status      ToolActionStatus `json:"status"`
}

// Turn is one message in a conversation.
type Turn struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	ToolActions []ToolAction `json:"tool_actions,omitempty"`
}

// NewTurn creates a turn with a fresh, time-sortable ID.
func NewTurn(role Role, content string, status Status) Turn {
	return Turn{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Status:    status,
		CreatedAt: time.Now(),
	}
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	c := t
	if t.ToolActions != nil {
		c.ToolActions = make([]ToolAction, len(t.ToolActions))
		copy(c.ToolActions, t.ToolActions)
	}
	return c
}

// terminalOnly filters out non-terminal turns, preserving order.
func terminalOnly(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out
}

// newest returns the last n turns.
func newest(turns []Turn, n int) []Turn {
	if n > 0 && len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}
