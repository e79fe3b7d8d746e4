package acp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ccdesk/ccdesk/internal/agent"
	"github.com/ccdesk/ccdesk/internal/logging"
	"github.com/ccdesk/ccdesk/internal/runner"
)

// cancelGrace is how long Cancel waits for the agent to acknowledge
// session/cancel before the process is killed.
const cancelGrace = 2 * time.Second

// SpawnFunc starts an agent process for one run.
type SpawnFunc func(ctx context.Context, workDir string) (*Process, error)

// BackendOptions configures a Backend.
type BackendOptions struct {
	// Command is the agent command line, e.g. "claude-code-acp".
	Command string
	// EnvRemove lists environment variables stripped from the agent.
	EnvRemove []string
	Runner    *runner.Runner
	// Spawn overrides process creation. Command, EnvRemove and Runner are
	// ignored when set.
	Spawn      SpawnFunc
	FileSystem FileSystem
	Logger     *slog.Logger
}

// Backend implements agent.Agent for ACP agents. Each run uses a fresh
// agent process and session.
type Backend struct {
	opts   BackendOptions
	spawn  SpawnFunc
	logger *slog.Logger
	runs   agent.Runs
}

var _ agent.Agent = (*Backend)(nil)

// NewBackend creates a Backend.
func NewBackend(opts BackendOptions) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Agent()
	}
	b := &Backend{opts: opts, logger: logger.With("backend", "acp")}
	b.spawn = opts.Spawn
	if b.spawn == nil {
		b.spawn = b.spawnProcess
	}
	return b
}

// Name implements agent.Agent.
func (b *Backend) Name() string { return "acp" }

// Start launches the agent process and runs the handshake and prompt in the
// background.
func (b *Backend) Start(ctx context.Context, req agent.Request, events chan<- agent.Event) error {
	logger := logging.WithSession(b.logger, req.SessionID, req.WorkDir)

	p, err := b.spawn(ctx, req.WorkDir)
	if err != nil {
		return err
	}

	emit := func(ev agent.Event) bool { return agent.Emit(ctx, events, ev) }
	client := NewClient(ClientConfig{
		AutoApprove: req.AutoApprove,
		Permissions: req.Permissions,
		Emit:        emit,
		FileSystem:  b.opts.FileSystem,
		Logger:      logger,
	})
	conn := NewConnection(p, client, logger)

	b.runs.Add(req.SessionID, func() error {
		cancelCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
		defer cancel()
		if err := conn.Cancel(cancelCtx); err != nil {
			logger.Debug("session/cancel failed", "error", err)
		}
		return conn.Close()
	})

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		if p.Stderr != nil {
			forwardStderr(p.Stderr, emit)
		}
	}()
	go b.run(ctx, req, conn, client, stderrDone, emit, logger)
	return nil
}

// Cancel stops the session's run. Unknown sessions are a no-op.
func (b *Backend) Cancel(sessionID string) error {
	err := b.runs.Stop(sessionID)
	if errors.Is(err, agent.ErrNoRunningProcess) {
		return nil
	}
	return err
}

func (b *Backend) run(
	ctx context.Context,
	req agent.Request,
	conn *Connection,
	client *Client,
	stderrDone <-chan struct{},
	emit func(agent.Event) bool,
	logger *slog.Logger,
) {
	defer b.runs.Remove(req.SessionID)

	err := conn.Initialize(ctx)
	if err == nil {
		err = conn.NewSession(ctx, req.WorkDir)
	}
	if err == nil {
		logger.Info("ACP prompt sent", "workdir", req.WorkDir)
		err = conn.Prompt(ctx, req.Prompt)
	}

	conn.Close()
	<-stderrDone

	output := strings.TrimSpace(client.Output())
	if err != nil {
		logger.Debug("ACP run failed", "error", err)
		if output == "" {
			output = err.Error()
		}
		emit(agent.Completed(false, output))
		return
	}
	emit(agent.Completed(true, output))
}

func (b *Backend) spawnProcess(ctx context.Context, workDir string) (*Process, error) {
	remove := make(map[string]bool, len(b.opts.EnvRemove))
	for _, name := range b.opts.EnvRemove {
		remove[name] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if !remove[name] {
			env = append(env, kv)
		}
	}
	return Spawn(ctx, b.opts.Command, workDir, env, b.opts.Runner, b.logger)
}

func forwardStderr(r io.Reader, emit func(agent.Event) bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			emit(agent.Stderr(line))
		}
	}
}
