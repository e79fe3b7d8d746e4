package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/session"
)

var (
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))
	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

func roleLabel(role conversation.Role) string {
	switch role {
	case conversation.RoleUser:
		return userStyle.Render("You")
	case conversation.RoleAssistant:
		return assistantStyle.Render("Claude")
	default:
		return dimStyle.Render(string(role))
	}
}

func statusLabel(status conversation.Status) string {
	switch status {
	case conversation.StatusError:
		return errorStyle.Render("[error]")
	case conversation.StatusStopped:
		return warnStyle.Render("[stopped]")
	case conversation.StatusStreaming:
		return dimStyle.Render("[streaming]")
	}
	return ""
}

func actionLabel(status conversation.ToolActionStatus) string {
	switch status {
	case conversation.ToolActionApproved:
		return okStyle.Render("approved")
	case conversation.ToolActionAutoApproved:
		return okStyle.Render("auto-approved")
	case conversation.ToolActionDenied:
		return errorStyle.Render("denied")
	default:
		return warnStyle.Render("pending")
	}
}

// renderTurns writes a conversation in reading order.
func renderTurns(w io.Writer, turns []conversation.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No conversation yet."))
		return
	}
	for _, t := range turns {
		renderTurn(w, t)
	}
}

func renderTurn(w io.Writer, t conversation.Turn) {
	header := roleLabel(t.Role) + " " + timeStyle.Render(t.CreatedAt.Local().Format("2006-01-02 15:04"))
	if label := statusLabel(t.Status); label != "" {
		header += " " + label
	}
	fmt.Fprintln(w, header)
	for _, a := range t.ToolActions {
		fmt.Fprintf(w, "  %s %s: %s\n", actionLabel(a.Status), a.Tool, a.Description)
	}
	if strings.TrimSpace(t.Content) != "" {
		fmt.Fprintln(w, indent(t.Content, "  "))
	}
	fmt.Fprintln(w)
}

func renderPermission(w io.Writer, p session.PendingPermission) {
	fmt.Fprintf(w, "%s %s wants to run: %s\n  %s\n",
		warnStyle.Render("?"),
		p.Tool,
		p.Description,
		dimStyle.Render(fmt.Sprintf("/approve %s or /deny %s", p.ID, p.ID)))
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
