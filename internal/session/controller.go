// Package session drives one agent invocation at a time for the selected
// project: it owns the turn state machine, applies permission decisions,
// and writes finalized turns to the conversation store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ccdesk/ccdesk/internal/agent"
	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/logging"
	"github.com/ccdesk/ccdesk/internal/permission"
	"github.com/ccdesk/ccdesk/internal/stream"
)

const (
	// NoResponse is the content of a successful turn that produced no output.
	NoResponse = "(No response)"

	// ErrorPrefix marks the content of failed turns.
	ErrorPrefix = "Error: "

	// DefaultActivityInterval bounds how often activity is reported.
	DefaultActivityInterval = 100 * time.Millisecond

	eventBuffer = 64
)

// Config configures a Controller.
type Config struct {
	Agent agent.Agent
	Store *conversation.Store

	// ApprovalMode is applied to sessions started after it is set.
	ApprovalMode permission.Mode

	// StallTimeout stops a session that has produced no event for this
	// long. Zero disables the watchdog.
	StallTimeout time.Duration

	// ActivityInterval is the minimum spacing of activity notifications.
	ActivityInterval time.Duration

	Logger *slog.Logger
}

// activeSession is the live binding of one prompt to one agent run.
type activeSession struct {
	id          string
	projectID   string
	turnID      string
	mode        permission.Mode
	cancel      context.CancelFunc
	sub         *stream.Subscription
	pending     map[string]*pendingEntry
	stall       *time.Timer
	logger      *slog.Logger
	startedAt   time.Time
	chunksSeen  int
	stderrLines int
}

type pendingEntry struct {
	info  PendingPermission
	reply chan bool
}

// Controller is the session controller for one project at a time.
type Controller struct {
	mu sync.Mutex

	agent   agent.Agent
	store   *conversation.Store
	channel *stream.Channel
	mode    permission.Mode
	state   State
	active  *activeSession

	stallTimeout time.Duration
	limiter      *rate.Limiter

	observersMu sync.RWMutex
	observers   map[int]Observer
	nextObsID   int
	dispatch    *dispatcher

	logger *slog.Logger
	closed bool
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Session()
	}
	mode := cfg.ApprovalMode
	if mode == "" {
		mode = permission.ModeAskEveryTime
	}
	interval := cfg.ActivityInterval
	if interval <= 0 {
		interval = DefaultActivityInterval
	}
	return &Controller{
		agent:        cfg.Agent,
		store:        cfg.Store,
		channel:      stream.New(),
		mode:         mode,
		state:        StateIdle,
		stallTimeout: cfg.StallTimeout,
		limiter:      rate.NewLimiter(rate.Every(interval), 1),
		observers:    make(map[int]Observer),
		dispatch:     newDispatcher(),
		logger:       logger,
	}
}

// --- Observer Management ---

// AddObserver registers an observer and returns a function that removes it.
func (c *Controller) AddObserver(o Observer) (remove func()) {
	c.observersMu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = o
	c.observersMu.Unlock()

	return func() {
		c.observersMu.Lock()
		delete(c.observers, id)
		c.observersMu.Unlock()
	}
}

func (c *Controller) notify(fn func(Observer)) {
	c.dispatch.enqueue(func() {
		c.observersMu.RLock()
		obs := make([]Observer, 0, len(c.observers))
		for _, o := range c.observers {
			obs = append(obs, o)
		}
		c.observersMu.RUnlock()
		for _, o := range obs {
			fn(o)
		}
	})
}

// --- Queries ---

// State returns the current process state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Project returns the selected project.
func (c *Controller) Project() string {
	return c.store.Project()
}

// ApprovalMode returns the mode applied to new sessions.
func (c *Controller) ApprovalMode() permission.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetApprovalMode changes the mode for sessions started afterwards.
func (c *Controller) SetApprovalMode(mode permission.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.mode {
		return
	}
	c.logger.Info("approval mode changed", "from", c.mode, "to", mode)
	c.mode = mode
}

// ActiveSessionID returns the ID of the running session, or "".
func (c *Controller) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.id
}

// Turns returns a snapshot of the conversation.
func (c *Controller) Turns() []conversation.Turn {
	return c.store.Turns()
}

// PendingPermissions returns the requests awaiting a decision.
func (c *Controller) PendingPermissions() []PendingPermission {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	out := make([]PendingPermission, 0, len(c.active.pending))
	for _, p := range c.active.pending {
		out = append(out, p.info)
	}
	return out
}

// --- Commands ---

// SwitchProject selects the project whose conversation is shown and to
// which prompts are sent. It is rejected while a session is active.
func (c *Controller) SwitchProject(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve project path: %w", err)
	}
	projectID := filepath.Clean(abs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrBusy
	}
	if err := c.store.SwitchProject(projectID); err != nil {
		return err
	}
	c.logger.Info("project selected", "project", projectID)
	for _, t := range c.store.Turns() {
		turn := t
		c.notify(func(o Observer) { o.OnTurnUpdated(turn) })
	}
	return nil
}

// Submit starts a new session for prompt. It returns once the agent has
// accepted or rejected the start request.
func (c *Controller) Submit(ctx context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitLocked(ctx, prompt)
}

func (c *Controller) submitLocked(ctx context.Context, prompt string) error {
	if c.closed {
		return conversation.ErrStoreClosed
	}
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	if c.active != nil {
		return ErrBusy
	}
	projectID := c.store.Project()
	if projectID == "" {
		return ErrNoProject
	}

	userTurn := conversation.NewTurn(conversation.RoleUser, prompt, conversation.StatusComplete)
	if err := c.store.AppendTurn(userTurn); err != nil {
		c.logger.Warn("failed to record user turn", "error", err)
	}
	c.notifyTurn(userTurn.ID)

	reply := conversation.NewTurn(conversation.RoleAssistant, "", conversation.StatusStreaming)
	if err := c.store.AppendTurn(reply); err != nil {
		c.logger.Warn("failed to record assistant turn", "error", err)
	}
	c.notifyTurn(reply.ID)

	sid := uuid.NewString()
	// The run outlives the caller's request; only Stop or completion end it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	as := &activeSession{
		id:        sid,
		projectID: projectID,
		turnID:    reply.ID,
		mode:      c.mode,
		cancel:    cancel,
		pending:   make(map[string]*pendingEntry),
		logger:    logging.WithSession(c.logger, sid, projectID),
		startedAt: time.Now(),
	}
	c.active = as

	events := make(chan agent.Event, eventBuffer)
	// Handlers run with c.mu held, so every Dispose below happens under
	// the same lock that guards delivery.
	as.sub = c.channel.Subscribe(sid, events, stream.Handlers{
		Guard:       &c.mu,
		OnChunk:     func(text string) { c.chunkLocked(sid, text, false) },
		OnFragment:  func(text string) { c.chunkLocked(sid, text, true) },
		OnStderr:    func(text string) { c.stderrLocked(sid, text) },
		OnCompleted: func(success bool, out string) { c.completedLocked(sid, success, out) },
	})
	c.setStateLocked(StateStarting)

	req := agent.Request{
		SessionID:   sid,
		Prompt:      prompt,
		WorkDir:     projectID,
		AutoApprove: as.mode == permission.ModeAutoApproveAll,
		Permissions: c.permissionFunc(sid),
	}
	as.logger.Info("starting agent", "backend", c.agent.Name(), "mode", as.mode)

	if err := c.agent.Start(runCtx, req, events); err != nil {
		as.logger.Error("agent start failed", "error", err)
		c.finalizeLocked(as, ErrorPrefix+err.Error(), conversation.StatusError, StateErrored)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	if c.stallTimeout > 0 {
		as.stall = time.AfterFunc(c.stallTimeout, func() { c.handleStall(sid) })
	}
	return nil
}

// Stop cancels the running session and finalizes its turn as stopped with
// whatever content has accumulated. Events arriving afterwards are ignored.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ErrNotRunning
	}
	c.stopLocked(c.active, "user")
	return nil
}

func (c *Controller) stopLocked(as *activeSession, reason string) {
	// Dispose first so no late chunk races the stopped finalization.
	as.sub.Dispose()
	if err := c.agent.Cancel(as.id); err != nil {
		as.logger.Warn("agent cancel failed", "error", err)
	}

	content := ""
	if t, ok := c.store.Turn(as.turnID); ok {
		content = t.Content
	}
	as.logger.Info("session stopped", "reason", reason)
	c.finalizeLocked(as, content, conversation.StatusStopped, StateStopped)
}

// Retry re-submits the prompt that preceded a failed assistant turn. The
// failed turn is left untouched.
func (c *Controller) Retry(ctx context.Context, turnID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, ok := c.store.Turn(turnID)
	if !ok {
		return conversation.ErrTurnNotFound
	}
	if turn.Role != conversation.RoleAssistant || turn.Status != conversation.StatusError {
		return ErrTurnNotRetryable
	}
	prompt, ok := c.store.PrecedingUserTurn(turnID)
	if !ok {
		return ErrTurnNotRetryable
	}
	c.logger.Info("retrying turn", "turn_id", turnID)
	return c.submitLocked(ctx, prompt.Content)
}

// ClearHistory erases the selected project's conversation.
func (c *Controller) ClearHistory() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrBusy
	}
	project := c.store.Project()
	if project == "" {
		return ErrNoProject
	}
	return c.store.Clear(project)
}

// Approve lets a pending action proceed.
func (c *Controller) Approve(id string) error {
	return c.resolve(id, true)
}

// Deny rejects a pending action. Denying an agent-class action stops the
// whole turn; any other denial only skips that action.
func (c *Controller) Deny(id string) error {
	return c.resolve(id, false)
}

func (c *Controller) resolve(id string, approved bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	as := c.active
	if as == nil {
		return ErrNotRunning
	}
	p, ok := as.pending[id]
	if !ok {
		return ErrPermissionNotFound
	}
	delete(as.pending, id)

	status := conversation.ToolActionApproved
	if !approved {
		status = conversation.ToolActionDenied
	}
	if err := c.store.SetToolActionStatus(as.turnID, id, status); err != nil {
		as.logger.Warn("failed to update tool action", "action_id", id, "error", err)
	}
	c.notifyTurn(as.turnID)
	p.reply <- approved

	as.logger.Info("permission resolved",
		"action_id", id,
		"tool", p.info.Tool,
		"approved", approved)

	if !approved && permission.DenyAbortsTurn(p.info.Tool) {
		c.stopLocked(as, "denied "+p.info.Tool)
		return nil
	}
	if len(as.pending) == 0 && c.state == StateWaitingPermission {
		c.setStateLocked(StateStreaming)
		c.resetStallLocked(as)
	}
	return nil
}

// Close stops any running session and releases the controller. The store
// is owned by the caller and is not closed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.active != nil {
		c.stopLocked(c.active, "shutdown")
	}
	c.closed = true
	c.mu.Unlock()
	c.dispatch.close()
}

// --- Event handlers ---

// current returns the active session if it is sid. Events for any other
// session are late and must be dropped.
func (c *Controller) current(sid string) *activeSession {
	if c.active == nil || c.active.id != sid {
		return nil
	}
	return c.active
}

// chunkLocked applies streamed text. Fragments continue the content
// verbatim; chunks are whole lines.
func (c *Controller) chunkLocked(sid, text string, fragment bool) {
	as := c.current(sid)
	if as == nil {
		c.logger.Debug("dropping late chunk", "session_id", sid)
		return
	}
	var err error
	if fragment {
		err = c.store.AppendText(as.turnID, text)
	} else {
		err = c.store.AppendContent(as.turnID, text)
	}
	if err != nil {
		as.logger.Warn("failed to append chunk", "error", err)
		return
	}
	as.chunksSeen++
	if c.state == StateStarting {
		c.setStateLocked(StateStreaming)
	}
	c.resetStallLocked(as)
	c.notifyTurn(as.turnID)
	if c.limiter.Allow() {
		if t, ok := c.store.Turn(as.turnID); ok && fragment {
			text = lastLine(t.Content)
		}
		activity := activityText(text)
		c.notify(func(o Observer) { o.OnActivity(activity) })
	}
}

func (c *Controller) stderrLocked(sid, text string) {
	as := c.current(sid)
	if as == nil {
		return
	}
	as.stderrLines++
	as.logger.Debug("agent stderr", "line", text)
	c.resetStallLocked(as)
}

func (c *Controller) completedLocked(sid string, success bool, fullOutput string) {
	as := c.current(sid)
	if as == nil {
		c.logger.Debug("dropping late completion", "session_id", sid)
		return
	}

	accumulated := ""
	if t, ok := c.store.Turn(as.turnID); ok {
		accumulated = t.Content
	}
	content := finalContent(fullOutput, accumulated)

	as.logger.Info("agent completed",
		"success", success,
		"chunks", as.chunksSeen,
		"stderr_lines", as.stderrLines,
		"duration", time.Since(as.startedAt).Round(time.Millisecond))

	if success {
		c.finalizeLocked(as, content, conversation.StatusComplete, StateCompleted)
		return
	}
	c.finalizeLocked(as, ErrorPrefix+content, conversation.StatusError, StateErrored)
}

func (c *Controller) handleStall(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	as := c.current(sid)
	if as == nil || c.state == StateWaitingPermission {
		return
	}
	as.logger.Warn("agent stalled", "timeout", c.stallTimeout)
	c.stopLocked(as, "stall")
}

// permissionFunc returns the handler a backend calls when the agent asks to
// perform an action. It blocks the backend until the action is decided.
func (c *Controller) permissionFunc(sid string) agent.PermissionFunc {
	return func(ctx context.Context, req agent.PermissionRequest) (bool, error) {
		c.mu.Lock()
		as := c.current(sid)
		if as == nil {
			c.mu.Unlock()
			return false, ErrNotRunning
		}

		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}
		action := permission.Action{Tool: req.Tool, Description: req.Description}
		decision := permission.Decide(action, as.mode)
		logging.Permission().Debug("permission decided",
			"session_id", sid,
			"tool", req.Tool,
			"mode", as.mode,
			"decision", decision)

		if decision == permission.Auto {
			c.recordActionLocked(as, id, req, conversation.ToolActionAutoApproved)
			c.mu.Unlock()
			return true, nil
		}

		entry := &pendingEntry{
			info: PendingPermission{
				ID:          id,
				SessionID:   sid,
				TurnID:      as.turnID,
				Tool:        req.Tool,
				Description: req.Description,
				Class:       permission.Classify(req.Tool),
				CreatedAt:   time.Now(),
			},
			reply: make(chan bool, 1),
		}
		as.pending[id] = entry
		c.recordActionLocked(as, id, req, conversation.ToolActionPending)
		if as.stall != nil {
			as.stall.Stop()
		}
		c.setStateLocked(StateWaitingPermission)
		info := entry.info
		c.notify(func(o Observer) { o.OnPermissionRequest(info) })
		c.mu.Unlock()

		select {
		case approved := <-entry.reply:
			return approved, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (c *Controller) recordActionLocked(as *activeSession, id string, req agent.PermissionRequest, status conversation.ToolActionStatus) {
	err := c.store.AddToolAction(as.turnID, conversation.ToolAction{
		ID:          id,
		Tool:        req.Tool,
		Description: req.Description,
		Status:      status,
	})
	if err != nil {
		as.logger.Warn("failed to record tool action", "tool", req.Tool, "error", err)
		return
	}
	c.notifyTurn(as.turnID)
}

// --- Internals ---

// finalizeLocked ends the session: it releases the subscription and any
// pending permission waits, writes the terminal turn and reports the
// outcome before returning to idle.
func (c *Controller) finalizeLocked(as *activeSession, content string, status conversation.Status, outcome State) {
	as.sub.Dispose()
	if as.stall != nil {
		as.stall.Stop()
	}
	for id, p := range as.pending {
		if err := c.store.SetToolActionStatus(as.turnID, id, conversation.ToolActionDenied); err != nil {
			as.logger.Debug("failed to deny pending action", "action_id", id, "error", err)
		}
		p.reply <- false
		delete(as.pending, id)
	}
	as.cancel()

	changed, err := c.store.FinalizeTurn(as.turnID, content, status)
	if err != nil {
		as.logger.Error("failed to persist finalized turn", "error", err)
	}
	c.active = nil
	if changed {
		c.notifyTurn(as.turnID)
	}
	c.setStateLocked(outcome)
	c.setStateLocked(StateIdle)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state changed", "from", c.state, "to", s)
	c.state = s
	c.notify(func(o Observer) { o.OnProcessStateChange(s) })
}

func (c *Controller) resetStallLocked(as *activeSession) {
	if as.stall != nil {
		as.stall.Reset(c.stallTimeout)
	}
}

func (c *Controller) notifyTurn(id string) {
	t, ok := c.store.Turn(id)
	if !ok {
		return
	}
	c.notify(func(o Observer) { o.OnTurnUpdated(t) })
}

// finalContent picks the content of a completed turn.
func finalContent(fullOutput, accumulated string) string {
	if strings.TrimSpace(fullOutput) != "" {
		return fullOutput
	}
	if strings.TrimSpace(accumulated) != "" {
		return accumulated
	}
	return NoResponse
}

func lastLine(content string) string {
	content = strings.TrimRight(content, "\n")
	if i := strings.LastIndexByte(content, '\n'); i >= 0 {
		return content[i+1:]
	}
	return content
}

func activityText(line string) string {
	line = strings.TrimSpace(line)
	const max = 120
	if r := []rune(line); len(r) > max {
		return string(r[:max]) + "…"
	}
	return line
}
