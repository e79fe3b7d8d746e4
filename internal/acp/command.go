package acp

import (
	"errors"
	"fmt"

	"github.com/google/shlex"
)

// ErrEmptyCommand is returned for a blank agent command.
var ErrEmptyCommand = errors.New("empty command")

// ParseCommand splits an agent command line with shell quoting rules, so
// `claude-code-acp --profile "my profile"` yields three arguments.
func ParseCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}
