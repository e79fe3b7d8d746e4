package conversation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ccdesk/ccdesk/internal/logging"
)

// Log is a durable, per-project turn collection.
// Save replaces the stored collection for the project.
type Log interface {
	Load(projectID string) ([]Turn, error)
	Save(projectID string, turns []Turn) error
	Clear(projectID string) error
	Close() error
}

// Store is the in-memory conversation log for the selected project.
// It is the only writer of persisted turns, and it only ever persists
// terminal turns, newest Limit of them.
//
// Streaming turns live only in memory until they are finalized.
type Store struct {
	mu      sync.Mutex
	log     Log
	limit   int
	project string
	turns   []*Turn
	closed  bool
	logger  *slog.Logger
}

// NewStore creates a store backed by log. A limit <= 0 uses DefaultLimit.
func NewStore(log Log, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		log:    log,
		limit:  limit,
		logger: logging.History(),
	}
}

// Limit returns the retention bound.
func (s *Store) Limit() int {
	return s.limit
}

// Project returns the currently selected project.
func (s *Store) Project() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// Load returns the persisted log for a project, restricted to terminal turns.
// Streaming turns found in storage are corrupt leftovers of an interrupted
// run and are dropped.
func (s *Store) Load(projectID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.loadLocked(projectID)
}

func (s *Store) loadLocked(projectID string) ([]Turn, error) {
	raw, err := s.log.Load(projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", projectID, err)
	}
	turns := terminalOnly(raw)
	if dropped := len(raw) - len(turns); dropped > 0 {
		s.logger.Debug("dropped non-terminal turns on load",
			"project", projectID,
			"dropped", dropped)
	}
	return newest(turns, s.limit), nil
}

// SwitchProject replaces the in-memory log with the persisted log of
// projectID. An unreadable log yields an empty conversation.
func (s *Store) SwitchProject(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	turns, err := s.loadLocked(projectID)
	if err != nil {
		s.logger.Warn("starting with empty history", "project", projectID, "error", err)
		turns = nil
	}

	s.project = projectID
	s.turns = make([]*Turn, 0, len(turns))
	for i := range turns {
		t := turns[i].Clone()
		s.turns = append(s.turns, &t)
	}
	s.logger.Debug("project switched", "project", projectID, "turns", len(s.turns))
	return nil
}

// AppendTurn inserts a turn at the end of the log, evicting the oldest
// turns beyond the retention bound. Terminal turns are persisted.
func (s *Store) AppendTurn(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	t := turn.Clone()
	s.turns = append(s.turns, &t)
	if over := len(s.turns) - s.limit; over > 0 {
		s.turns = append([]*Turn(nil), s.turns[over:]...)
	}

	if !t.Status.Terminal() {
		return nil
	}
	return s.persistLocked()
}

// AppendContent appends a line to a streaming turn, newline-joined.
func (s *Store) AppendContent(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return ErrTurnNotFound
	}
	if t.Status.Terminal() {
		return ErrTurnTerminal
	}
	if t.Content == "" {
		t.Content = text
	} else {
		t.Content += "\n" + text
	}
	return nil
}

// AppendText appends text to a streaming turn verbatim, for backends that
// stream fragments rather than whole lines.
func (s *Store) AppendText(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return ErrTurnNotFound
	}
	if t.Status.Terminal() {
		return ErrTurnTerminal
	}
	t.Content += text
	return nil
}

// FinalizeTurn moves a turn to a terminal status with its final content
// and persists the log. It returns false without error if the turn is
// already terminal.
//
// A persistence error is returned after the in-memory transition has
// taken effect.
func (s *Store) FinalizeTurn(id, content string, status Status) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	t := s.findLocked(id)
	if t == nil {
		return false, ErrTurnNotFound
	}
	if t.Status.Terminal() {
		return false, nil
	}

	t.Content = content
	t.Status = status
	return true, s.persistLocked()
}

// Turn returns a copy of the turn with the given ID.
func (s *Store) Turn(id string) (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(id)
	if t == nil {
		return Turn{}, false
	}
	return t.Clone(), true
}

// Turns returns a snapshot of the in-memory log, oldest first.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.Clone()
	}
	return out
}

// PrecedingUserTurn returns the nearest user turn before the turn with id.
func (s *Store) PrecedingUserTurn(id string) (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, t := range s.turns {
		if t.ID == id {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if s.turns[i].Role == RoleUser {
			return s.turns[i].Clone(), true
		}
	}
	return Turn{}, false
}

// AddToolAction records a tool action on a streaming turn.
func (s *Store) AddToolAction(turnID string, action ToolAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(turnID)
	if t == nil {
		return ErrTurnNotFound
	}
	if t.Status.Terminal() {
		return ErrTurnTerminal
	}
	t.ToolActions = append(t.ToolActions, action)
	return nil
}

// SetToolActionStatus updates the approval state of a tool action on a
// streaming turn.
func (s *Store) SetToolActionStatus(turnID, actionID string, status ToolActionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(turnID)
	if t == nil {
		return ErrTurnNotFound
	}
	if t.Status.Terminal() {
		return ErrTurnTerminal
	}
	for i := range t.ToolActions {
		if t.ToolActions[i].ID == actionID {
			t.ToolActions[i].Status = status
			return nil
		}
	}
	return ErrActionNotFound
}

// Clear erases the persisted log for a project. If it is the selected
// project, terminal turns are also dropped from memory.
func (s *Store) Clear(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := s.log.Clear(projectID); err != nil {
		return fmt.Errorf("failed to clear history for %s: %w", projectID, err)
	}
	if projectID == s.project {
		kept := s.turns[:0]
		for _, t := range s.turns {
			if !t.Status.Terminal() {
				kept = append(kept, t)
			}
		}
		s.turns = kept
	}
	s.logger.Info("history cleared", "project", projectID)
	return nil
}

// Close closes the underlying log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.log.Close()
}

func (s *Store) findLocked(id string) *Turn {
	for _, t := range s.turns {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// persistLocked writes the newest terminal turns of the selected project.
// This is the only path that writes turns to the Log.
func (s *Store) persistLocked() error {
	if s.project == "" {
		return nil
	}
	snapshot := make([]Turn, 0, len(s.turns))
	for _, t := range s.turns {
		if t.Status.Terminal() {
			snapshot = append(snapshot, t.Clone())
		}
	}
	snapshot = newest(snapshot, s.limit)

	if err := s.log.Save(s.project, snapshot); err != nil {
		s.logger.Error("failed to persist history", "project", s.project, "error", err)
		return fmt.Errorf("failed to persist history: %w", err)
	}
	s.logger.Debug("history persisted", "project", s.project, "turns", len(snapshot))
	return nil
}
