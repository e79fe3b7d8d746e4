package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommands_Simple(t *testing.T) {
	cmds, err := ParseCommands("ls -la")
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "ls", cmds[0].Name)
	assert.Equal(t, []string{"-la"}, cmds[0].Args)
}

func TestParseCommands_Pipeline(t *testing.T) {
	cmds, err := ParseCommands("cat file.txt | grep foo && rm -rf build")
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, "cat", cmds[0].Name)
	assert.Equal(t, "grep", cmds[1].Name)
	assert.Equal(t, "rm", cmds[2].Name)
}

func TestParseCommands_Quoted(t *testing.T) {
	cmds, err := ParseCommands(`git commit -m "fix bug"`)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{"commit", "-m", "fix bug"}, cmds[0].Args)
}

func TestParseCommands_Invalid(t *testing.T) {
	_, err := ParseCommands(`echo "unterminated`)
	assert.Error(t, err)
}

func TestDescribeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"git status", "Run: git status"},
		{"go test ./...", "Run: go test"},
		{"ls -la && rm -rf tmp", "Run: ls, rm (destructive)"},
		{"", "Run shell command"},
		{`echo "oops`, `Run: echo "oops`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DescribeCommand(tt.in), tt.in)
	}
}
