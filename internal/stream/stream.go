// Package stream delivers backend events to a single live subscriber.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/ccdesk/ccdesk/internal/agent"
)

// Handlers receive the events of one session. Nil handlers are skipped.
type Handlers struct {
	OnChunk     func(text string)
	OnFragment  func(text string)
	OnCompleted func(success bool, fullOutput string)
	OnStderr    func(text string)

	// Guard is held while a handler runs, together with the disposal
	// check that precedes it. With a Guard set, Dispose must be called
	// while holding it; handlers already do. Without one the subscription
	// uses a private mutex and Dispose acquires it, so handlers must not
	// call Dispose.
	Guard sync.Locker
}

// Channel holds at most one live subscription.
type Channel struct {
	mu      sync.Mutex
	current *Subscription
}

// New creates an empty channel.
func New() *Channel {
	return &Channel{}
}

// Subscribe starts delivering events from source to h. A prior subscription
// is disposed before the new one starts.
//
// Events are delivered sequentially, in the order they were read from
// source. Delivery ends after a completed event, when source is closed,
// or when the subscription is disposed.
func (c *Channel) Subscribe(sessionID string, source <-chan agent.Event, h Handlers) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Dispose()
	}
	s := &Subscription{
		sessionID: sessionID,
		handlers:  h,
		guard:     h.Guard,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if s.guard == nil {
		s.guard = &sync.Mutex{}
		s.private = true
	}
	c.current = s
	go s.deliver(source)
	return s
}

// Current returns the live subscription, or nil.
func (c *Channel) Current() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Disposed() {
		c.current = nil
	}
	return c.current
}

// Dispose disposes the live subscription, if any.
func (c *Channel) Dispose() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s != nil {
		s.Dispose()
	}
}

// Subscription is one session's registration on a Channel.
type Subscription struct {
	sessionID string
	handlers  Handlers
	guard     sync.Locker
	private   bool

	disposed atomic.Bool
	once     sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// SessionID returns the session this subscription belongs to.
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Dispose stops delivery. It is idempotent. After it returns no further
// handler invocation begins. See Handlers.Guard for the locking contract.
func (s *Subscription) Dispose() {
	if s.private {
		s.guard.Lock()
		defer s.guard.Unlock()
	}
	s.markDisposed()
}

func (s *Subscription) markDisposed() {
	s.disposed.Store(true)
	s.once.Do(func() { close(s.stop) })
}

// Disposed reports whether Dispose has been called.
func (s *Subscription) Disposed() bool {
	return s.disposed.Load()
}

// Done is closed when the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) deliver(source <-chan agent.Event) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-source:
			if !ok || !s.deliverOne(ev) {
				return
			}
		}
	}
}

// deliverOne runs the handler for ev under the guard. It reports whether
// delivery should continue.
func (s *Subscription) deliverOne(ev agent.Event) bool {
	s.guard.Lock()
	defer s.guard.Unlock()
	if s.disposed.Load() {
		return false
	}
	s.dispatch(ev)
	if ev.Kind == agent.EventCompleted {
		s.markDisposed()
		return false
	}
	return true
}

func (s *Subscription) dispatch(ev agent.Event) {
	h := s.handlers
	switch ev.Kind {
	case agent.EventChunk:
		if h.OnChunk != nil {
			h.OnChunk(ev.Text)
		}
	case agent.EventFragment:
		if h.OnFragment != nil {
			h.OnFragment(ev.Text)
		}
	case agent.EventStderr:
		if h.OnStderr != nil {
			h.OnStderr(ev.Text)
		}
	case agent.EventCompleted:
		if h.OnCompleted != nil {
			h.OnCompleted(ev.Success, ev.Text)
		}
	}
}
