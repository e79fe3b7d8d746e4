package fileutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONAtomic_AndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	if err := WriteJSONAtomic(path, sample{Name: "a", Count: 2}, 0644); err != nil {
		t.Fatalf("WriteJSONAtomic failed: %v", err)
	}

	var got sample
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Name != "a" || got.Count != 2 {
		t.Errorf("got %+v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestWriteJSONAtomic_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	if err := WriteJSONAtomic(path, sample{Name: "first"}, 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSONAtomic(path, sample{Name: "second"}, 0644); err != nil {
		t.Fatal(err)
	}

	var got sample
	if err := ReadJSON(path, &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "second" {
		t.Errorf("Name = %q, want %q", got.Name, "second")
	}
}

func TestReadJSON_Missing(t *testing.T) {
	var got sample
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestReadJSON_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	var got sample
	if err := ReadJSON(path, &got); err == nil {
		t.Error("expected parse error")
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	if err := RemoveIfExists(path); err != nil {
		t.Errorf("missing file should not error: %v", err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveIfExists(path); err != nil {
		t.Fatalf("RemoveIfExists failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}
}
