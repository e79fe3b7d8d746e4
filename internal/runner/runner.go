// Package runner launches agent processes, optionally inside a sandbox
// provided by go-restricted-runner.
//
// With no sandbox configured the agent runs unrestricted (exec runner).
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/inercia/go-restricted-runner/pkg/common"
	grrunner "github.com/inercia/go-restricted-runner/pkg/runner"

	"github.com/ccdesk/ccdesk/internal/config"
)

// Runner wraps a go-restricted-runner instance.
type Runner struct {
	runner grrunner.Runner
	kind   string
	logger *slog.Logger
	// Fallback is set when the requested sandbox was unavailable and the
	// runner fell back to plain exec.
	Fallback *FallbackInfo
}

// FallbackInfo describes a sandbox fallback.
type FallbackInfo struct {
	RequestedType string
	Reason        string
}

// New creates a runner for the given sandbox settings. A nil sandbox, or
// type exec, yields an unrestricted runner. Paths in the settings may use
// $WORKSPACE, $HOME, $CCDESK_DIR, $USER and $TMPDIR.
func New(sandbox *config.SandboxSettings, workspace string, logger *slog.Logger) (*Runner, error) {
	kind := config.SandboxExec
	if sandbox != nil && sandbox.Type != "" {
		kind = sandbox.Type
	}

	resolver := NewVariableResolver(workspace)
	options := toOptions(sandbox, resolver)

	runnerLogger, err := common.NewLogger("", "", common.LogLevelInfo, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner logger: %w", err)
	}

	r := &Runner{kind: kind, logger: logger}

	gr, err := grrunner.New(toType(kind), options, runnerLogger)
	if err == nil {
		err = gr.CheckImplicitRequirements()
	}
	if err != nil {
		if kind == config.SandboxExec {
			return nil, fmt.Errorf("failed to create exec runner: %w", err)
		}
		if logger != nil {
			logger.Warn("sandbox unavailable, falling back to exec",
				"requested_type", kind,
				"error", err)
		}
		r.Fallback = &FallbackInfo{RequestedType: kind, Reason: err.Error()}
		r.kind = config.SandboxExec
		gr, err = grrunner.New(grrunner.TypeExec, grrunner.Options{}, runnerLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback exec runner: %w", err)
		}
	}
	r.runner = gr

	if logger != nil {
		logger.Debug("runner ready",
			"type", r.kind,
			"workspace", workspace,
			"fallback", r.Fallback != nil)
	}
	return r, nil
}

// RunWithPipes starts command with connected pipes. The caller must close
// stdin when done writing and must call wait. Cancelling ctx kills the
// process.
func (r *Runner) RunWithPipes(
	ctx context.Context,
	command string,
	args []string,
	env []string,
) (stdin io.WriteCloser, stdout io.ReadCloser, stderr io.ReadCloser, wait func() error, err error) {
	return r.runner.RunWithPipes(ctx, command, args, env, nil)
}

// Type returns the runner type in use.
func (r *Runner) Type() string {
	return r.kind
}

// IsRestricted reports whether a sandbox is applied.
func (r *Runner) IsRestricted() bool {
	return r.kind != config.SandboxExec
}

func toOptions(s *config.SandboxSettings, resolver *VariableResolver) grrunner.Options {
	options := grrunner.Options{}
	if s == nil {
		return options
	}
	if s.AllowNetworking != nil {
		options["allow_networking"] = *s.AllowNetworking
	}
	if folders := resolver.ResolvePaths(s.AllowReadFolders); len(folders) > 0 {
		options["allow_read_folders"] = folders
	}
	if folders := resolver.ResolvePaths(s.AllowWriteFolders); len(folders) > 0 {
		options["allow_write_folders"] = folders
	}
	if s.DockerImage != "" {
		options["image"] = s.DockerImage
	}
	return options
}

func toType(kind string) grrunner.Type {
	switch kind {
	case config.SandboxSandboxExec:
		return grrunner.TypeSandboxExec
	case config.SandboxFirejail:
		return grrunner.TypeFirejail
	case config.SandboxDocker:
		return grrunner.TypeDocker
	default:
		return grrunner.TypeExec
	}
}
