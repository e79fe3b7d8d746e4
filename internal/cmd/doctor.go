package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccdesk/ccdesk/internal/acp"
	"github.com/ccdesk/ccdesk/internal/appdir"
	"github.com/ccdesk/ccdesk/internal/claudecli"
	"github.com/ccdesk/ccdesk/internal/config"
	"github.com/ccdesk/ccdesk/internal/runner"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the agent installation and ccdesk configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		return runDoctor(ctx, cmd.OutOrStdout(), settings, settingsPath)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(ctx context.Context, w io.Writer, s *config.Settings, path string) error {
	dir, err := appdir.Dir()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Data directory: %s\n", dir)
	fmt.Fprintf(w, "Settings:       %s\n", path)
	fmt.Fprintf(w, "Approval mode:  %s\n", s.ApprovalMode)
	fmt.Fprintf(w, "History:        %s (limit %d)\n", s.History.Backend, s.History.Limit)
	if s.LastProject != "" {
		fmt.Fprintf(w, "Last project:   %s\n", s.LastProject)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Agent backend:  %s\n", s.Agent.Backend)
	switch s.Agent.Backend {
	case config.BackendACP:
		args, err := acp.ParseCommand(s.Agent.Command)
		if err != nil {
			fmt.Fprintf(w, "  %s %v\n", errorStyle.Render("✗"), err)
		} else {
			fmt.Fprintf(w, "  command: %s\n", args[0])
		}
	default:
		install := claudecli.Check(ctx)
		if install.Installed {
			fmt.Fprintf(w, "  %s Claude Code found at %s\n", okStyle.Render("✓"), install.Path)
			if install.Version != "" {
				fmt.Fprintf(w, "  version: %s\n", install.Version)
			}
		} else {
			fmt.Fprintf(w, "  %s Claude Code not found on PATH or in the usual install locations\n", errorStyle.Render("✗"))
			fmt.Fprintln(w, dimStyle.Render("  Install it with: npm install -g @anthropic-ai/claude-code"))
		}
	}

	r, err := runner.New(s.Sandbox, dir, nil)
	if err != nil {
		fmt.Fprintf(w, "Sandbox:        %s %v\n", errorStyle.Render("✗"), err)
		return nil
	}
	fmt.Fprintf(w, "Sandbox:        %s\n", r.Type())
	if r.Fallback != nil {
		fmt.Fprintf(w, "  %s %s unavailable: %s\n", warnStyle.Render("!"), r.Fallback.RequestedType, r.Fallback.Reason)
	}
	return nil
}
