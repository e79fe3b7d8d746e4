package runner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ccdesk/ccdesk/internal/appdir"
)

// VariableResolver expands sandbox path variables:
// $WORKSPACE, $HOME, $CCDESK_DIR, $USER and $TMPDIR, in $VAR or ${VAR}
// form, plus a leading ~/. Other variables are left untouched.
type VariableResolver struct {
	vars map[string]string
	home string
}

// NewVariableResolver captures the runtime values for workspace.
func NewVariableResolver(workspace string) *VariableResolver {
	home, _ := os.UserHomeDir()
	dataDir, _ := appdir.Dir()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	return &VariableResolver{
		home: home,
		vars: map[string]string{
			"WORKSPACE":    workspace,
			"HOME":         home,
			appdir.DirEnv: dataDir,
			"USER":         user,
			"TMPDIR":       os.TempDir(),
		},
	}
}

// Resolve expands variables in path.
func (vr *VariableResolver) Resolve(path string) string {
	path = os.Expand(path, func(name string) string {
		if v, ok := vr.vars[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(vr.home, path[2:])
	}
	return path
}

// ResolvePaths resolves each path.
func (vr *VariableResolver) ResolvePaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = vr.Resolve(p)
	}
	return out
}
