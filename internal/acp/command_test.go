package acp

import (
	"errors"
	"slices"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"claude-code-acp", []string{"claude-code-acp"}},
		{"npx -y @zed-industries/claude-code-acp@latest", []string{"npx", "-y", "@zed-industries/claude-code-acp@latest"}},
		{`sh -c 'cd /work && agent --acp'`, []string{"sh", "-c", "cd /work && agent --acp"}},
		{`agent --profile "my profile"`, []string{"agent", "--profile", "my profile"}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, err := ParseCommand(tt.command)
			if err != nil {
				t.Fatalf("ParseCommand: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	for _, command := range []string{"", "   "} {
		if _, err := ParseCommand(command); !errors.Is(err, ErrEmptyCommand) {
			t.Errorf("ParseCommand(%q) = %v, want ErrEmptyCommand", command, err)
		}
	}
	if _, err := ParseCommand(`agent "unterminated`); err == nil {
		t.Error("unclosed quote should fail")
	}
}
