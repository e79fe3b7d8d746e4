// Package claudecli runs prompts through the Claude Code CLI in print mode.
package claudecli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/ccdesk/ccdesk/internal/acp"
	"github.com/ccdesk/ccdesk/internal/agent"
	"github.com/ccdesk/ccdesk/internal/logging"
	"github.com/ccdesk/ccdesk/internal/runner"
)

// DefaultCommand is the CLI binary name.
const DefaultCommand = "claude"

// FailureMessage is the completed output of a failed run that printed nothing.
const FailureMessage = "Claude Code exited with an error."

// ErrNotFound is returned when the CLI binary cannot be located.
var ErrNotFound = errors.New("claude CLI not found")

// nestedSessionVars are removed from the child environment so the CLI does
// not refuse to start when ccdesk itself runs inside a Claude Code session.
var nestedSessionVars = []string{
	"CLAUDECODE",
	"CLAUDE_CODE_SESSION",
	"CLAUDE_CODE_ENTRY_POINT",
	"CLAUDE_CODE_PACKAGE_DIR",
}

// Options configures a Backend.
type Options struct {
	// Command is the binary name or path, optionally followed by extra
	// arguments. Defaults to "claude".
	Command string
	// EnvRemove lists additional environment variables to strip.
	EnvRemove []string
	// Runner, when set, launches the CLI through a sandbox.
	Runner *runner.Runner
	Logger *slog.Logger
}

// Backend implements agent.Agent on top of `claude -p`.
type Backend struct {
	opts   Options
	logger *slog.Logger
	runs   agent.Runs
}

// New creates a Backend.
func New(opts Options) *Backend {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Agent()
	}
	return &Backend{opts: opts, logger: logger.With("backend", "claude-cli")}
}

// Name implements agent.Agent.
func (b *Backend) Name() string { return "claude-cli" }

// Start spawns the CLI and streams its output on events. It returns once the
// process is running.
func (b *Backend) Start(ctx context.Context, req agent.Request, events chan<- agent.Event) error {
	args, err := acp.ParseCommand(b.opts.Command)
	if err != nil {
		return err
	}
	path := AugmentedPath()
	bin := args[0]
	if !strings.ContainsRune(bin, filepath.Separator) {
		found, ok := findIn(path, bin)
		if !ok {
			return fmt.Errorf("%w: %q is not on PATH", ErrNotFound, bin)
		}
		bin = found
	}

	cliArgs := append(args[1:len(args):len(args)], "-p", req.Prompt)
	if req.AutoApprove {
		cliArgs = append(cliArgs, "--dangerously-skip-permissions")
	}
	env := b.environment(path)

	var (
		stdout, stderr io.ReadCloser
		wait           func() error
		stop           func() error
	)
	if b.opts.Runner != nil {
		runCtx, cancel := context.WithCancel(ctx)
		command, wrapped := runner.InDir(req.WorkDir, bin, cliArgs)
		var stdin io.WriteCloser
		stdin, stdout, stderr, wait, err = b.opts.Runner.RunWithPipes(runCtx, command, wrapped, env)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to start Claude Code: %w", err)
		}
		stdin.Close()
		stop = func() error { cancel(); return nil }
	} else {
		cmd := exec.Command(bin, cliArgs...)
		cmd.Dir = req.WorkDir
		cmd.Env = env
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("stdout pipe error: %w", err)
		}
		if stderr, err = cmd.StderrPipe(); err != nil {
			return fmt.Errorf("stderr pipe error: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start Claude Code: %w", err)
		}
		wait = cmd.Wait
		stop = func() error { return terminateGroup(cmd.Process.Pid) }
	}

	b.runs.Add(req.SessionID, stop)
	logger := logging.WithSession(b.logger, req.SessionID, req.WorkDir)
	logger.Info("claude started", "workdir", req.WorkDir, "auto_approve", req.AutoApprove)

	go b.stream(ctx, req.SessionID, stdout, stderr, wait, events, logger)
	return nil
}

// Cancel terminates the session's process group. Unknown sessions are a
// no-op.
func (b *Backend) Cancel(sessionID string) error {
	err := b.runs.Stop(sessionID)
	if errors.Is(err, agent.ErrNoRunningProcess) {
		return nil
	}
	return err
}

func (b *Backend) stream(
	ctx context.Context,
	sessionID string,
	stdout, stderr io.Reader,
	wait func() error,
	events chan<- agent.Event,
	logger *slog.Logger,
) {
	defer b.runs.Remove(sessionID)

	var (
		wg        sync.WaitGroup
		errOutput strings.Builder
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := readLines(stderr, func(line string) {
			errOutput.WriteString(line)
			errOutput.WriteByte('\n')
			agent.Emit(ctx, events, agent.Stderr(line))
		})
		if err != nil {
			logger.Warn("stderr read failed", "error", err)
		}
	}()

	var output strings.Builder
	err := readLines(stdout, func(line string) {
		output.WriteString(line)
		output.WriteByte('\n')
		agent.Emit(ctx, events, agent.Chunk(line))
	})
	if err != nil {
		logger.Warn("stdout read failed", "error", err)
	}
	wg.Wait()

	err = wait()
	success := err == nil
	if err != nil {
		logger.Debug("claude exited with error", "error", err)
	} else {
		logger.Debug("claude exited")
	}
	agent.Emit(ctx, events, agent.Completed(success, finalOutput(success, output.String(), errOutput.String())))
}

// finalOutput picks the completed text: stdout unless the run failed without
// printing anything, in which case stderr or a generic message.
func finalOutput(success bool, stdout, stderr string) string {
	if !success && strings.TrimSpace(stdout) == "" {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return msg
		}
		return FailureMessage
	}
	return strings.TrimSpace(stdout)
}

func (b *Backend) environment(path string) []string {
	remove := make(map[string]bool, len(nestedSessionVars)+len(b.opts.EnvRemove))
	for _, name := range nestedSessionVars {
		remove[name] = true
	}
	for _, name := range b.opts.EnvRemove {
		remove[name] = true
	}
	return cleanEnv(os.Environ(), remove, path)
}

func cleanEnv(environ []string, remove map[string]bool, path string) []string {
	env := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if remove[name] || name == "PATH" {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "PATH="+path)
}

// readLines calls fn for every line of r, without a line length limit. On a
// read error the rest of r is drained so the writer never blocks.
func readLines(r io.Reader, fn func(line string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			fn(strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			io.Copy(io.Discard, r)
			return err
		}
	}
}

func terminateGroup(pid int) error {
	err := syscall.Kill(-pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
