package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/session"
	"github.com/ccdesk/ccdesk/internal/web"
)

var oncePrompt string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal session with the agent",
	Long: `Start an interactive session in the selected project.

Type a prompt and press Enter to send it. Output streams as it arrives.

Use --once to send a single prompt, print the reply and exit:
  ccdesk chat --once "Summarize the README"

Commands (interactive mode only):
  /stop              - Stop the running turn
  /retry [turn-id]   - Retry the last failed turn
  /clear             - Erase this project's history
  /approve [id]      - Approve a pending action (oldest if no id)
  /deny [id]         - Deny a pending action (oldest if no id)
  /project [dir]     - Show or switch the project
  /history           - Show the conversation
  /help              - Show available commands
  /quit, /exit       - Exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&oncePrompt, "once", "", "Send a single prompt and exit (non-interactive mode)")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(settings, settingsPath, projectDir)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newChat(a.ctrl, cmd.OutOrStdout())
	defer c.detach()

	if oncePrompt != "" {
		return c.once(ctx, oncePrompt)
	}
	return c.interactive(ctx)
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/stop", "Stop the running turn"},
	{"/retry", "Retry the last failed turn"},
	{"/clear", "Erase this project's history"},
	{"/approve", "Approve a pending action"},
	{"/deny", "Deny a pending action"},
	{"/project", "Show or switch the project"},
	{"/history", "Show the conversation"},
	{"/help", "Show available commands"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
}

// chat renders controller events to a terminal and turns input lines into
// controller commands.
type chat struct {
	ctrl   web.Controller
	out    io.Writer
	remove func()

	mu sync.Mutex
	// streaming holds what has been printed of each assistant turn that is
	// still being rendered.
	streaming map[string]string
	actions   map[string]conversation.ToolActionStatus
	idle      chan struct{}
}

func newChat(ctrl web.Controller, out io.Writer) *chat {
	c := &chat{
		ctrl:      ctrl,
		out:       out,
		streaming: make(map[string]string),
		actions:   make(map[string]conversation.ToolActionStatus),
		idle:      make(chan struct{}, 1),
	}
	c.remove = ctrl.AddObserver(session.ObserverFuncs{
		StateChange:       c.onState,
		TurnUpdated:       c.onTurn,
		PermissionRequest: c.onPermission,
	})
	return c
}

func (c *chat) detach() {
	c.remove()
}

func (c *chat) onState(s session.State) {
	if s != session.StateIdle {
		return
	}
	select {
	case c.idle <- struct{}{}:
	default:
	}
}

// onTurn prints the unseen tail of assistant turns this chat is following.
// Terminal turns it never saw streaming, such as a replayed history, are
// ignored.
func (c *chat) onTurn(t conversation.Turn) {
	if t.Role != conversation.RoleAssistant {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	printed, following := c.streaming[t.ID]
	if !following && t.Status.Terminal() {
		return
	}
	c.printActions(t)

	switch {
	case strings.HasPrefix(t.Content, printed):
		fmt.Fprint(c.out, t.Content[len(printed):])
	default:
		// The final content replaced what was streamed.
		fmt.Fprint(c.out, "\n"+t.Content)
	}
	c.streaming[t.ID] = t.Content

	if t.Status.Terminal() {
		delete(c.streaming, t.ID)
		fmt.Fprintln(c.out)
		if label := statusLabel(t.Status); label != "" {
			fmt.Fprintln(c.out, label)
		}
	}
}

func (c *chat) printActions(t conversation.Turn) {
	for _, a := range t.ToolActions {
		if c.actions[a.ID] == a.Status || a.Status == conversation.ToolActionPending {
			continue
		}
		c.actions[a.ID] = a.Status
		fmt.Fprintf(c.out, "\n%s %s: %s\n", actionLabel(a.Status), a.Tool, a.Description)
	}
}

func (c *chat) onPermission(p session.PendingPermission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
	renderPermission(c.out, p)
}

func (c *chat) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *chat) printErr(err error) {
	c.printf("%s\n", errorStyle.Render("Error: "+err.Error()))
}

func (c *chat) interactive(ctx context.Context) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "ccdesk> " })
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	c.printf("Project: %s\n%s\n", c.ctrl.Project(),
		dimStyle.Render("Type a prompt and press Enter. Use /help for commands. Tab completes commands."))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && c.ctrl.State().Active() {
				// Ctrl+C stops the turn before it exits the shell.
				c.stopTurn()
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}
		if quit := c.handleLine(ctx, line); quit {
			return nil
		}
	}
}

// handleLine executes one line of input. It reports whether the chat should
// exit.
func (c *chat) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := c.ctrl.Submit(ctx, line); err != nil {
			c.printErr(err)
		}
		return false
	}

	fields := strings.Fields(line)
	name, arg := strings.ToLower(fields[0]), ""
	if len(fields) > 1 {
		arg = strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	}

	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/stop":
		c.stopTurn()
	case "/retry":
		c.retry(ctx, arg)
	case "/clear":
		if err := c.ctrl.ClearHistory(); err != nil {
			c.printErr(err)
			return false
		}
		c.printf("%s\n", dimStyle.Render("History cleared."))
	case "/approve", "/deny":
		c.answer(arg, name == "/approve")
	case "/project":
		c.project(arg)
	case "/history":
		c.mu.Lock()
		renderTurns(c.out, c.ctrl.Turns())
		c.mu.Unlock()
	case "/help", "/h", "/?":
		c.printHelp()
	default:
		c.printf("Unknown command: %s (use /help for available commands)\n", name)
	}
	return false
}

func (c *chat) stopTurn() {
	if err := c.ctrl.Stop(); err != nil {
		c.printErr(err)
	}
}

func (c *chat) retry(ctx context.Context, turnID string) {
	if turnID == "" {
		turnID = lastFailedTurn(c.ctrl.Turns())
		if turnID == "" {
			c.printf("Nothing to retry.\n")
			return
		}
	}
	if err := c.ctrl.Retry(ctx, turnID); err != nil {
		c.printErr(err)
	}
}

func (c *chat) answer(id string, approve bool) {
	if id == "" {
		pending := c.ctrl.PendingPermissions()
		if len(pending) == 0 {
			c.printf("No pending permission requests.\n")
			return
		}
		id = pending[0].ID
	}
	var err error
	if approve {
		err = c.ctrl.Approve(id)
	} else {
		err = c.ctrl.Deny(id)
	}
	if err != nil {
		c.printErr(err)
	}
}

func (c *chat) project(dir string) {
	if dir == "" {
		c.printf("Project: %s\n", c.ctrl.Project())
		return
	}
	if err := c.ctrl.SwitchProject(dir); err != nil {
		c.printErr(err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "Project: %s\n", c.ctrl.Project())
	renderTurns(c.out, c.ctrl.Turns())
}

// once sends a single prompt and waits for the turn to end. Actions that
// need approval are denied since nobody can answer them.
func (c *chat) once(ctx context.Context, prompt string) error {
	c.remove()
	c.remove = c.ctrl.AddObserver(session.ObserverFuncs{
		StateChange: c.onState,
		TurnUpdated: c.onTurn,
		PermissionRequest: func(p session.PendingPermission) {
			c.onPermission(p)
			if err := c.ctrl.Deny(p.ID); err != nil && !errors.Is(err, session.ErrPermissionNotFound) {
				c.printErr(err)
			}
		},
	})

	if err := c.ctrl.Submit(ctx, prompt); err != nil {
		return err
	}
	select {
	case <-c.idle:
	case <-ctx.Done():
		c.ctrl.Stop()
		<-c.idle
	}

	turns := c.ctrl.Turns()
	if n := len(turns); n > 0 && turns[n-1].Status == conversation.StatusError {
		return errors.New("agent run failed")
	}
	return nil
}

func (c *chat) printHelp() {
	c.printf(`
Available commands:
  /stop              - Stop the running turn
  /retry [turn-id]   - Retry the last failed turn
  /clear             - Erase this project's history
  /approve [id]      - Approve a pending action (oldest if no id)
  /deny [id]         - Deny a pending action (oldest if no id)
  /project [dir]     - Show or switch the project
  /history           - Show the conversation
  /quit, /exit       - Exit

Tips:
  - Ctrl+C stops a running turn, or exits when idle
  - Use up/down arrows for input history
  - Use Tab to autocomplete slash commands
`)
}

// lastFailedTurn returns the newest assistant turn that ended in error.
func lastFailedTurn(turns []conversation.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role == conversation.RoleAssistant && t.Status == conversation.StatusError {
			return t.ID
		}
	}
	return ""
}

// completeInput completes slash commands.
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]
	if !strings.HasPrefix(text, "/") || strings.ContainsRune(text, ' ') {
		return readline.Completions{}
	}

	pairs := matchCommands(text)
	if len(pairs) == 0 {
		return readline.Completions{}
	}
	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}

// matchCommands returns value-description pairs for commands starting with
// prefix.
func matchCommands(prefix string) []string {
	var pairs []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, prefix) {
			pairs = append(pairs, cmd.name, cmd.description)
		}
	}
	return pairs
}
