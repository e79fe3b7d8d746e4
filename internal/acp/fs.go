package acp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem serves the agent's fs/read_text_file and fs/write_text_file
// requests.
type FileSystem interface {
	// ReadTextFile returns the file content, optionally restricted to limit
	// lines starting at the 1-based line.
	ReadTextFile(path string, line, limit *int) (string, error)
	// WriteTextFile replaces the file, creating parent directories.
	WriteTextFile(path, content string) error
}

// OSFileSystem is the FileSystem backed by the local disk. Paths must be
// absolute.
type OSFileSystem struct{}

var _ FileSystem = (*OSFileSystem)(nil)

// DefaultFileSystem is used when a client is created without one.
var DefaultFileSystem FileSystem = &OSFileSystem{}

// ReadTextFile implements FileSystem.
func (*OSFileSystem) ReadTextFile(path string, line, limit *int) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if line == nil && limit == nil {
		return string(data), nil
	}
	return sliceLines(string(data), line, limit), nil
}

// WriteTextFile implements FileSystem.
func (*OSFileSystem) WriteTextFile(path, content string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func sliceLines(content string, line, limit *int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if line != nil && *line > 0 {
		start = min(*line-1, len(lines))
	}
	end := len(lines)
	if limit != nil && *limit > 0 {
		end = min(start+*limit, end)
	}
	return strings.Join(lines[start:end], "\n")
}
