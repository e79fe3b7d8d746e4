package claudecli

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// versionTimeout bounds `claude --version`.
const versionTimeout = 10 * time.Second

// Install describes the local CLI installation.
type Install struct {
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

// AugmentedPath returns PATH with the usual per-user install locations
// prepended. Processes started outside a login shell often miss them.
func AugmentedPath() string {
	current := os.Getenv("PATH")
	home, err := os.UserHomeDir()
	if err != nil {
		return current
	}
	extra := []string{
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, ".claude", "local"),
		filepath.Join(home, ".npm-global", "bin"),
		filepath.Join(home, ".cargo", "bin"),
		"/usr/local/bin",
	}
	if runtime.GOOS == "darwin" {
		extra = append(extra, "/opt/homebrew/bin")
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, dir := range append(extra, filepath.SplitList(current)...) {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return strings.Join(dirs, string(os.PathListSeparator))
}

// FindBinary locates the claude binary on the augmented PATH.
func FindBinary() (string, bool) {
	return findIn(AugmentedPath(), DefaultCommand)
}

// Check reports whether the CLI is installed and, if so, its version.
// A version that cannot be read is left empty.
func Check(ctx context.Context) Install {
	path, ok := FindBinary()
	if !ok {
		return Install{}
	}
	return Install{Installed: true, Path: path, Version: Version(ctx, path)}
}

// Version runs `<bin> --version` and returns its trimmed output, or "" on
// failure.
func Version(ctx context.Context, bin string) string {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, "--version")
	cmd.Env = cleanEnv(os.Environ(), nil, AugmentedPath())
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func findIn(path, name string) (string, bool) {
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		return candidate, true
	}
	return "", false
}
