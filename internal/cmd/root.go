// Package cmd provides the CLI commands for ccdesk.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccdesk/ccdesk/internal/appdir"
	"github.com/ccdesk/ccdesk/internal/config"
	"github.com/ccdesk/ccdesk/internal/logging"
)

var (
	// Global flags
	configPath    string
	projectDir    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       bool
	logJSON       bool
	logComponents string

	// Loaded configuration
	settings     *config.Settings
	settingsPath string
)

var rootCmd = &cobra.Command{
	Use:   "ccdesk",
	Short: "ccdesk - a desk for driving Claude Code in a project",
	Long: `ccdesk runs an AI coding agent (the Claude Code CLI or any ACP agent)
against a project directory, keeps a per-project conversation history and
gates the agent's side-effecting actions behind an approval mode.

Use "ccdesk chat" for an interactive terminal session or "ccdesk serve"
for the HTTP and websocket interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Priority: --log-level flag > --debug flag > default (info)
		level := "info"
		if logLevel != "" {
			level = logLevel
		} else if debug {
			level = "debug"
		}
		logCfg := logging.Config{
			Level:      level,
			JSON:       logJSON,
			Components: splitList(logComponents),
		}
		if logFile {
			path, err := appdir.LogFilePath()
			if err != nil {
				return err
			}
			fileCfg := logging.DefaultFileLogConfig()
			fileCfg.Path = path
			logCfg.FileLog = &fileCfg
		}
		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		var err error
		settings, settingsPath, err = config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Settings file (JSON or YAML), overrides settings.json in the data directory")
	flags.StringVarP(&projectDir, "project", "p", "", "Project directory (defaults to the last project, then the current directory)")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	flags.BoolVar(&logFile, "log-file", false, "Also write logs to a rotating file in the data directory")
	flags.BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	flags.StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g. 'session,agent'). Empty means all components.")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
