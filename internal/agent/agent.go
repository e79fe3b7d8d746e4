// Package agent defines the contract between the session controller and
// an external coding-agent backend.
package agent

import (
	"context"
	"errors"
	"sync"
)

// ErrNoRunningProcess is returned by Runs.Stop when nothing is registered
// for the session.
var ErrNoRunningProcess = errors.New("no running agent process")

// EventKind identifies a backend event.
type EventKind string

const (
	EventChunk     EventKind = "chunk"
	EventFragment  EventKind = "fragment"
	EventCompleted EventKind = "completed"
	EventStderr    EventKind = "stderr"
)

// Event is one backend-originated event. For EventCompleted, Text holds the
// full output and Success reports whether the run succeeded.
type Event struct {
	Kind    EventKind
	Text    string
	Success bool
}

// Chunk returns a chunk event.
func Chunk(text string) Event { return Event{Kind: EventChunk, Text: text} }

// Fragment returns an event carrying a piece of streamed text that
// continues the content verbatim, with no separator. Backends that stream
// tokens rather than lines use it.
func Fragment(text string) Event { return Event{Kind: EventFragment, Text: text} }

// Stderr returns a stderr event.
func Stderr(text string) Event { return Event{Kind: EventStderr, Text: text} }

// Completed returns a completion event.
func Completed(success bool, fullOutput string) Event {
	return Event{Kind: EventCompleted, Text: fullOutput, Success: success}
}

// Emit sends ev on ch unless ctx is done first. It reports whether the event
// was sent. Backends use it so a cancelled run never blocks on a reader
// that has gone away.
func Emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// PermissionRequest describes a side-effecting action the agent wants to take.
type PermissionRequest struct {
	ID          string
	Tool        string
	Description string
}

// PermissionFunc resolves a permission request. It blocks until a decision
// is available or ctx is done.
type PermissionFunc func(ctx context.Context, req PermissionRequest) (bool, error)

// Request is one agent invocation.
type Request struct {
	SessionID   string
	Prompt      string
	WorkDir     string
	AutoApprove bool
	Permissions PermissionFunc
}

// Agent is an external coding-agent backend. Start must not block for the
// duration of the run: events are delivered on the provided channel, and
// a completed event is always the last one sent for a session unless the
// run is cancelled.
type Agent interface {
	Name() string
	Start(ctx context.Context, req Request, events chan<- Event) error
	Cancel(sessionID string) error
}

// Runs tracks stop functions of in-flight runs by session ID.
type Runs struct {
	mu   sync.Mutex
	runs map[string]func() error
}

// Add registers a stop function for a session.
func (r *Runs) Add(sessionID string, stop func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string]func() error)
	}
	r.runs[sessionID] = stop
}

// Remove forgets a session.
func (r *Runs) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, sessionID)
}

// Stop invokes and forgets the session's stop function.
func (r *Runs) Stop(sessionID string) error {
	r.mu.Lock()
	stop, ok := r.runs[sessionID]
	delete(r.runs, sessionID)
	r.mu.Unlock()
	if !ok {
		return ErrNoRunningProcess
	}
	return stop()
}

// Len returns the number of tracked runs.
func (r *Runs) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
