package conversation

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteLog_RoundTrip(t *testing.T) {
	log, err := NewSQLiteLog(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLog failed: %v", err)
	}
	defer log.Close()

	user := NewTurn(RoleUser, "fix bug", StatusComplete)
	reply := NewTurn(RoleAssistant, "Looking...\nFound it", StatusComplete)
	reply.ToolActions = []ToolAction{{ID: "a1", Tool: "read", Description: "Read main.go", Status: ToolActionAutoApproved}}

	if err := log.Save("/work/app", []Turn{user, reply}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := log.Save("/work/lib", []Turn{NewTurn(RoleUser, "other", StatusComplete)}); err != nil {
		t.Fatalf("Save(lib) failed: %v", err)
	}

	got, err := log.Load("/work/app")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != user.ID || got[1].ID != reply.ID {
		t.Errorf("order = %s,%s", got[0].ID, got[1].ID)
	}
	if got[1].Content != reply.Content {
		t.Errorf("Content = %q, want %q", got[1].Content, reply.Content)
	}
	if len(got[1].ToolActions) != 1 || got[1].ToolActions[0].Tool != "read" {
		t.Errorf("ToolActions = %+v", got[1].ToolActions)
	}
	if d := got[0].CreatedAt.Sub(user.CreatedAt); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("CreatedAt drift = %v", d)
	}
}

func TestSQLiteLog_SaveReplaces(t *testing.T) {
	log, err := NewSQLiteLog(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLog failed: %v", err)
	}
	defer log.Close()

	log.Save("/p", []Turn{NewTurn(RoleUser, "a", StatusComplete), NewTurn(RoleUser, "b", StatusComplete)})
	log.Save("/p", []Turn{NewTurn(RoleUser, "c", StatusComplete)})

	got, _ := log.Load("/p")
	if len(got) != 1 || got[0].Content != "c" {
		t.Errorf("Load = %+v, want only c", got)
	}

	if err := log.Clear("/p"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, _ = log.Load("/p")
	if len(got) != 0 {
		t.Errorf("Load after Clear = %+v", got)
	}
}

func TestStore_WithSQLiteLog(t *testing.T) {
	log, err := NewSQLiteLog(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLog failed: %v", err)
	}
	s := NewStore(log, 3)
	defer s.Close()
	s.SwitchProject("/p")

	for i := 0; i < 4; i++ {
		s.AppendTurn(NewTurn(RoleUser, "x", StatusComplete))
	}
	got, _ := s.Load("/p")
	if len(got) != 3 {
		t.Errorf("persisted %d turns, want 3", len(got))
	}
}
