// Package permission decides whether a tool action requested by the agent
// may run without interactive confirmation.
package permission

import "strings"

// Mode is the configured approval mode.
type Mode string

const (
	// ModeAskEveryTime requires confirmation for every action.
	ModeAskEveryTime Mode = "ask-every-time"
	// ModeAutoApproveSafe auto-approves read-only actions only.
	ModeAutoApproveSafe Mode = "auto-approve-safe"
	// ModeAutoApproveAll auto-approves every action.
	ModeAutoApproveAll Mode = "auto-approve-all"
)

// Modes lists the recognized approval modes.
var Modes = []Mode{ModeAskEveryTime, ModeAutoApproveSafe, ModeAutoApproveAll}

// ParseMode normalizes a configured mode string.
// The boolean is false for unrecognized values, which map to ModeAskEveryTime.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, true
		}
	}
	return ModeAskEveryTime, false
}

// Decision is the outcome of Decide.
type Decision string

const (
	// Auto lets the action proceed without asking.
	Auto Decision = "auto"
	// Confirm suspends the action until the user approves or denies it.
	Confirm Decision = "confirm"
)

// Class partitions tools by whether they have side effects.
type Class int

const (
	// Mutating tools change files, run commands or spawn work.
	Mutating Class = iota
	// ReadOnly tools only observe.
	ReadOnly
)

func (c Class) String() string {
	if c == ReadOnly {
		return "read-only"
	}
	return "mutating"
}

// Tool identifiers reported by the agent backends.
const (
	ToolBash         = "bash"
	ToolRead         = "read"
	ToolWrite        = "write"
	ToolEdit         = "edit"
	ToolGlob         = "glob"
	ToolGrep         = "grep"
	ToolLs           = "ls"
	ToolAgent        = "agent"
	ToolWebSearch    = "web_search"
	ToolWebFetch     = "web_fetch"
	ToolThink        = "think"
	ToolNotebookEdit = "notebook_edit"
	ToolDelete       = "delete"
	ToolMove         = "move"
)

var readOnlyTools = map[string]bool{
	ToolRead:      true,
	ToolGlob:      true,
	ToolGrep:      true,
	ToolLs:        true,
	ToolWebSearch: true,
	ToolWebFetch:  true,
	ToolThink:     true,
}

// Classify returns the class of a tool identifier.
// Identifiers are matched case-insensitively; anything not known to be
// read-only is Mutating.
func Classify(tool string) Class {
	if readOnlyTools[normalizeTool(tool)] {
		return ReadOnly
	}
	return Mutating
}

// Action is a tool invocation the agent wants to perform.
type Action struct {
	Tool        string
	Description string
}

// Decide maps an action and approval mode to a decision.
// It is a pure function. Unknown modes behave like ModeAskEveryTime.
func Decide(action Action, mode Mode) Decision {
	switch mode {
	case ModeAutoApproveAll:
		return Auto
	case ModeAutoApproveSafe:
		if Classify(action.Tool) == ReadOnly {
			return Auto
		}
		return Confirm
	default:
		return Confirm
	}
}

// DenyAbortsTurn reports whether denying the tool ends the whole turn
// instead of skipping just that action. Subagent spawns are treated as a
// precondition for the rest of the turn.
func DenyAbortsTurn(tool string) bool {
	return normalizeTool(tool) == ToolAgent
}

func normalizeTool(tool string) string {
	t := strings.ToLower(strings.TrimSpace(tool))
	t = strings.ReplaceAll(t, "-", "_")
	switch t {
	case "websearch":
		return ToolWebSearch
	case "webfetch":
		return ToolWebFetch
	case "notebookedit":
		return ToolNotebookEdit
	case "task":
		return ToolAgent
	}
	return t
}
