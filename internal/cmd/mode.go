package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccdesk/ccdesk/internal/config"
	"github.com/ccdesk/ccdesk/internal/permission"
)

var modeCmd = &cobra.Command{
	Use:   "mode [ask-every-time|auto-approve-safe|auto-approve-all]",
	Short: "Show or set the approval mode",
	Long: `Show or set the approval mode.

  ask-every-time     every side-effecting action needs approval
  auto-approve-safe  read-only actions run without asking
  auto-approve-all   everything runs without asking

A running "ccdesk chat" or "ccdesk serve" picks up the change for the next prompt.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(permission.ModeAskEveryTime), string(permission.ModeAutoApproveSafe), string(permission.ModeAutoApproveAll)},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			cmd.Println(settings.ApprovalMode)
			return nil
		}
		mode, ok := permission.ParseMode(args[0])
		if !ok {
			return fmt.Errorf("unknown approval mode %q", args[0])
		}
		if configPath != "" {
			return fmt.Errorf("cannot change the mode of an explicit --config file")
		}
		settings.ApprovalMode = mode
		if err := config.SaveSettings(settings); err != nil {
			return err
		}
		cmd.Printf("Approval mode set to %s\n", mode)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modeCmd)
}
