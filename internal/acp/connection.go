package acp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/ccdesk/ccdesk/internal/logging"
	"github.com/ccdesk/ccdesk/internal/runner"
)

// ErrNoSession is returned by Prompt before NewSession succeeded.
var ErrNoSession = errors.New("no active ACP session")

// Process is a running agent's stdio and lifecycle hooks.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
	// Stop terminates the process. Wait reaps it.
	Stop func() error
	Wait func() error
}

// Spawn starts command in dir with env. When r is non-nil the process is
// launched through the restricted runner, otherwise directly.
func Spawn(ctx context.Context, command, dir string, env []string, r *runner.Runner, logger *slog.Logger) (*Process, error) {
	args, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}

	if r != nil {
		runCtx, cancel := context.WithCancel(ctx)
		name, wrapped := runner.InDir(dir, args[0], args[1:])
		if logger != nil {
			logger.Info("starting ACP process through restricted runner",
				"runner_type", r.Type(),
				"command", command)
		}
		stdin, stdout, stderr, wait, err := r.RunWithPipes(runCtx, name, wrapped, env)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start with runner: %w", err)
		}
		return &Process{
			Stdin:  stdin,
			Stdout: stdout,
			Stderr: stderr,
			Stop:   func() error { cancel(); return nil },
			Wait:   wait,
		}, nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ACP agent: %w", err)
	}
	if logger != nil {
		logger.Info("started ACP process", "command", command, "cwd", dir, "pid", cmd.Process.Pid)
	}
	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Stop: func() error {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return err
			}
			return nil
		},
		Wait: cmd.Wait,
	}, nil
}

// Connection is the client side of one ACP agent process.
type Connection struct {
	conn      *acp.ClientSideConnection
	process   *Process
	client    *Client
	logger    *slog.Logger
	closeOnce sync.Once

	mu        sync.Mutex
	sessionID acp.SessionId
	hasSess   bool
}

// NewConnection speaks ACP to p on behalf of client.
func NewConnection(p *Process, client *Client, logger *slog.Logger) *Connection {
	conn := acp.NewClientSideConnection(client, p.Stdin, NewJSONLineFilterReader(p.Stdout, logger))
	if logger != nil {
		conn.SetLogger(logging.DowngradeInfoToDebug(logger))
	}
	return &Connection{conn: conn, process: p, client: client, logger: logger}
}

// Initialize performs the protocol handshake. Only file system access is
// advertised.
func (c *Connection) Initialize(ctx context.Context) error {
	resp, err := c.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs: acp.FileSystemCapability{
				ReadTextFile:  true,
				WriteTextFile: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize error: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("ACP connected", "protocol_version", resp.ProtocolVersion)
	}
	return nil
}

// NewSession opens an agent session rooted at cwd.
func (c *Connection) NewSession(ctx context.Context, cwd string) error {
	sess, err := c.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        cwd,
		McpServers: []acp.McpServer{},
	})
	if err != nil {
		return fmt.Errorf("new session error: %w", err)
	}
	c.mu.Lock()
	c.sessionID = sess.SessionId
	c.hasSess = true
	c.mu.Unlock()
	return nil
}

// Prompt sends message and blocks until the agent ends its turn.
func (c *Connection) Prompt(ctx context.Context, message string) error {
	sessionID, ok := c.session()
	if !ok {
		return ErrNoSession
	}
	_, err := c.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: sessionID,
		Prompt:    []acp.ContentBlock{acp.TextBlock(message)},
	})
	return err
}

// Cancel asks the agent to abandon the current prompt.
func (c *Connection) Cancel(ctx context.Context) error {
	sessionID, ok := c.session()
	if !ok {
		return nil
	}
	return c.conn.Cancel(ctx, acp.CancelNotification{SessionId: sessionID})
}

func (c *Connection) session() (acp.SessionId, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.hasSess
}

// Close terminates the agent process and reaps it. It is safe to call more
// than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.process.Stdin.Close()
		err = c.process.Stop()
		c.process.Wait()
	})
	return err
}

// Done is closed when the peer connection ends.
func (c *Connection) Done() <-chan struct{} {
	return c.conn.Done()
}
