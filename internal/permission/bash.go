package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is one simple command extracted from a shell line.
type Command struct {
	Name string
	Args []string
}

// destructiveCommands are flagged in descriptions so the confirmation prompt
// makes the risk visible.
var destructiveCommands = map[string]bool{
	"rm":    true,
	"rmdir": true,
	"mv":    true,
	"dd":    true,
	"chmod": true,
	"chown": true,
	"mkfs":  true,
	"sudo":  true,
}

// ParseCommands parses a bash command line into its simple commands, in
// source order, including those inside pipelines, lists and subshells.
func ParseCommands(line string) ([]Command, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var cmds []Command
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		name := literal(call.Args[0])
		if name == "" {
			return true
		}
		cmd := Command{Name: name}
		for _, arg := range call.Args[1:] {
			cmd.Args = append(cmd.Args, literal(arg))
		}
		cmds = append(cmds, cmd)
		return true
	})
	return cmds, nil
}

// literal renders a word, keeping literals and quoted text and replacing
// expansions with placeholders.
func literal(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// DescribeCommand builds the human-readable description shown when a shell
// action needs confirmation, e.g. "Run: git status, rm (destructive)".
// Unparseable input falls back to the raw line.
func DescribeCommand(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return "Run shell command"
	}
	cmds, err := ParseCommands(line)
	if err != nil || len(cmds) == 0 {
		return "Run: " + line
	}

	parts := make([]string, 0, len(cmds))
	destructive := false
	for _, c := range cmds {
		label := c.Name
		if sub := firstPositional(c.Args); sub != "" && isSubcommandTool(c.Name) {
			label += " " + sub
		}
		parts = append(parts, label)
		if destructiveCommands[c.Name] {
			destructive = true
		}
	}
	desc := "Run: " + strings.Join(parts, ", ")
	if destructive {
		desc += " (destructive)"
	}
	return desc
}

func firstPositional(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

func isSubcommandTool(name string) bool {
	switch name {
	case "git", "go", "npm", "pnpm", "yarn", "cargo", "docker", "kubectl", "make":
		return true
	}
	return false
}
