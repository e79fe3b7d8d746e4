package session

import (
	"errors"
	"time"

	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/permission"
)

var (
	// ErrBusy is returned when a command requires the controller to be idle.
	ErrBusy = errors.New("a session is already active")

	// ErrNotRunning is returned by commands that need an active session.
	ErrNotRunning = errors.New("no active session")

	// ErrNoProject is returned when no project has been selected.
	ErrNoProject = errors.New("no project selected")

	// ErrStartFailed wraps errors from the agent's Start.
	ErrStartFailed = errors.New("failed to start agent")

	// ErrTurnNotRetryable is returned by Retry for turns that are not failed
	// assistant turns with a preceding prompt.
	ErrTurnNotRetryable = errors.New("turn cannot be retried")

	// ErrEmptyPrompt is returned by Submit for blank prompts.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrPermissionNotFound is returned by Approve and Deny for unknown requests.
	ErrPermissionNotFound = errors.New("permission request not found")
)

// State is the aggregate process state reported to observers.
type State string

const (
	StateIdle              State = "idle"
	StateStarting          State = "starting"
	StateStreaming         State = "streaming"
	StateWaitingPermission State = "waiting_permission"
	StateCompleted         State = "completed"
	StateErrored           State = "errored"
	StateStopped           State = "stopped"
)

// Active reports whether the state belongs to a running session.
func (s State) Active() bool {
	switch s {
	case StateStarting, StateStreaming, StateWaitingPermission:
		return true
	}
	return false
}

// PendingPermission is an action waiting for an explicit decision.
type PendingPermission struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	TurnID      string           `json:"turn_id"`
	Tool        string           `json:"tool"`
	Description string           `json:"description"`
	Class       permission.Class `json:"-"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Observer receives controller notifications. Callbacks run outside the
// controller lock, in the order the transitions happened, and may call
// back into the controller.
type Observer interface {
	OnProcessStateChange(state State)
	OnActivity(text string)
	OnTurnUpdated(turn conversation.Turn)
	OnPermissionRequest(p PendingPermission)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChange       func(State)
	Activity          func(string)
	TurnUpdated       func(conversation.Turn)
	PermissionRequest func(PendingPermission)
}

func (f ObserverFuncs) OnProcessStateChange(state State) {
	if f.StateChange != nil {
		f.StateChange(state)
	}
}

func (f ObserverFuncs) OnActivity(text string) {
	if f.Activity != nil {
		f.Activity(text)
	}
}

func (f ObserverFuncs) OnTurnUpdated(turn conversation.Turn) {
	if f.TurnUpdated != nil {
		f.TurnUpdated(turn)
	}
}

func (f ObserverFuncs) OnPermissionRequest(p PendingPermission) {
	if f.PermissionRequest != nil {
		f.PermissionRequest(p)
	}
}
