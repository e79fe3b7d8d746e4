package acp

import (
	"os"
	"path/filepath"
	"testing"
)

func intPtr(n int) *int { return &n }

func TestOSFileSystem_ReadTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("one\ntwo\nthree\nfour\nfive"), 0o644)
	fs := &OSFileSystem{}

	tests := []struct {
		name        string
		line, limit *int
		want        string
	}{
		{"whole file", nil, nil, "one\ntwo\nthree\nfour\nfive"},
		{"from line", intPtr(3), nil, "three\nfour\nfive"},
		{"limit", nil, intPtr(2), "one\ntwo"},
		{"line and limit", intPtr(2), intPtr(2), "two\nthree"},
		{"line past end", intPtr(10), nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fs.ReadTextFile(path, tt.line, tt.limit)
			if err != nil {
				t.Fatalf("ReadTextFile: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOSFileSystem_ReadTextFile_Errors(t *testing.T) {
	fs := &OSFileSystem{}
	if _, err := fs.ReadTextFile("relative.txt", nil, nil); err == nil {
		t.Error("relative path should fail")
	}
	if _, err := fs.ReadTextFile(filepath.Join(t.TempDir(), "missing"), nil, nil); err == nil {
		t.Error("missing file should fail")
	}
}

func TestOSFileSystem_WriteTextFile(t *testing.T) {
	fs := &OSFileSystem{}
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.txt")

	if err := fs.WriteTextFile(path, "hello"); err != nil {
		t.Fatalf("WriteTextFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
	if err := fs.WriteTextFile("out.txt", "x"); err == nil {
		t.Error("relative path should fail")
	}
}
