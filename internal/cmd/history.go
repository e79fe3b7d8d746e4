package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccdesk/ccdesk/internal/conversation"
)

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or erase a project's conversation history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the conversation of the selected project",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, project, err := openProjectHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		turns, err := store.Load(project)
		if err != nil {
			return err
		}
		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(turns)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project: %s\n\n", project)
		renderTurns(cmd.OutOrStdout(), turns)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase the conversation of the selected project",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, project, err := openProjectHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(project); err != nil {
			return err
		}
		cmd.Printf("Cleared history for %s\n", project)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd, historyClearCmd)
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Print turns as JSON")
}

// openProjectHistory opens the configured history without starting an agent.
func openProjectHistory() (*conversation.Store, string, error) {
	project, err := resolveProject(projectDir, settings.LastProject)
	if err != nil {
		return nil, "", err
	}
	log, err := openHistory(settings)
	if err != nil {
		return nil, "", err
	}
	return conversation.NewStore(log, settings.History.Limit), project, nil
}
