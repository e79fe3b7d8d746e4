package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ccdesk/ccdesk/internal/acp"
	"github.com/ccdesk/ccdesk/internal/agent"
	"github.com/ccdesk/ccdesk/internal/appdir"
	"github.com/ccdesk/ccdesk/internal/claudecli"
	"github.com/ccdesk/ccdesk/internal/config"
	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/logging"
	"github.com/ccdesk/ccdesk/internal/runner"
	"github.com/ccdesk/ccdesk/internal/session"
)

// sqliteFileName is the database used by the sqlite history backend.
const sqliteFileName = "history.db"

// app wires settings, agent backend, history and controller together.
type app struct {
	settings *config.Settings
	store    *conversation.Store
	ctrl     *session.Controller
	watcher  *config.SettingsWatcher
	logger   *slog.Logger
}

// newApp builds the controller for s and selects the starting project.
// watchPath, when set, is watched for approval mode changes.
func newApp(s *config.Settings, watchPath, project string) (*app, error) {
	logger := logging.Get()

	project, err := resolveProject(project, s.LastProject)
	if err != nil {
		return nil, err
	}

	r, err := runner.New(s.Sandbox, project, logging.Agent())
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	if !r.IsRestricted() {
		r = nil
	}

	log, err := openHistory(s)
	if err != nil {
		return nil, err
	}
	store := conversation.NewStore(log, s.History.Limit)

	ctrl := session.NewController(session.Config{
		Agent:        newAgent(s, r),
		Store:        store,
		ApprovalMode: s.ApprovalMode,
		StallTimeout: s.StallTimeout.Duration,
	})
	a := &app{settings: s, store: store, ctrl: ctrl, logger: logger}

	if err := ctrl.SwitchProject(project); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open project %s: %w", project, err)
	}

	if watchPath != "" {
		w, err := config.NewSettingsWatcher(watchPath, a.applySettings, logging.Settings())
		if err != nil {
			logger.Warn("settings watcher disabled", "error", err)
		} else {
			w.Start()
			a.watcher = w
		}
	}
	return a, nil
}

// applySettings takes the parts of reloaded settings that apply without a
// restart.
func (a *app) applySettings(s *config.Settings) {
	a.ctrl.SetApprovalMode(s.ApprovalMode)
}

// Close stops any running session, remembers the project and releases the
// history.
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.ctrl.Close()
	if project := a.ctrl.Project(); project != "" && project != a.settings.LastProject && configPath == "" {
		a.settings.LastProject = project
		if err := config.SaveSettings(a.settings); err != nil {
			a.logger.Warn("failed to remember project", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logging.Shutdown().Warn("failed to close history", "error", err)
	}
}

// newAgent creates the configured backend.
func newAgent(s *config.Settings, r *runner.Runner) agent.Agent {
	switch s.Agent.Backend {
	case config.BackendACP:
		return acp.NewBackend(acp.BackendOptions{
			Command:   s.Agent.Command,
			EnvRemove: s.Agent.EnvRemove,
			Runner:    r,
		})
	default:
		return claudecli.New(claudecli.Options{
			Command:   s.Agent.Command,
			EnvRemove: s.Agent.EnvRemove,
			Runner:    r,
		})
	}
}

// openHistory opens the configured conversation log.
func openHistory(s *config.Settings) (conversation.Log, error) {
	dir, err := appdir.HistoryDir()
	if err != nil {
		return nil, err
	}
	switch s.History.Backend {
	case config.HistorySQLite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		return conversation.NewSQLiteLog(filepath.Join(dir, sqliteFileName))
	default:
		return conversation.NewFileLog(dir)
	}
}

// resolveProject picks the flag value, then the last project if it still
// exists, then the working directory.
func resolveProject(flag, last string) (string, error) {
	if flag != "" {
		info, err := os.Stat(flag)
		if err != nil {
			return "", fmt.Errorf("project directory: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("project %s is not a directory", flag)
		}
		return filepath.Abs(flag)
	}
	if last != "" {
		if info, err := os.Stat(last); err == nil && info.IsDir() {
			return last, nil
		}
	}
	return os.Getwd()
}
