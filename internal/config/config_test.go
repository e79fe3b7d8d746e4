package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ccdesk/ccdesk/internal/appdir"
	"github.com/ccdesk/ccdesk/internal/permission"
)

func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(appdir.DirEnv, dir)
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)
	return dir
}

func TestParse_JSONDefaults(t *testing.T) {
	s, err := Parse([]byte(`{}`), "json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.ApprovalMode != permission.ModeAskEveryTime {
		t.Errorf("ApprovalMode = %q, want ask-every-time", s.ApprovalMode)
	}
	if s.Agent.Backend != BackendClaudeCLI || s.Agent.Command != DefaultClaudeCommand {
		t.Errorf("Agent = %+v", s.Agent)
	}
	if s.History.Backend != HistoryJSON || s.History.Limit != DefaultHistoryLimit {
		t.Errorf("History = %+v", s.History)
	}
	if s.StallTimeout.Duration != 0 {
		t.Errorf("StallTimeout = %v, want disabled", s.StallTimeout)
	}
	if s.Web.Addr() != "127.0.0.1:5757" {
		t.Errorf("Web.Addr = %q", s.Web.Addr())
	}
}

func TestParse_YAML(t *testing.T) {
	data := `
approval_mode: auto-approve-safe
agent:
  backend: acp
  command: "claude-code-acp --verbose"
history:
  backend: sqlite
  limit: 20
stall_timeout: 90s
sandbox:
  type: firejail
  allow_networking: false
  allow_write_folders: ["$WORKSPACE"]
web:
  port: 8080
`
	s, err := Parse([]byte(data), "yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.ApprovalMode != permission.ModeAutoApproveSafe {
		t.Errorf("ApprovalMode = %q", s.ApprovalMode)
	}
	if s.Agent.Backend != BackendACP || s.Agent.Command != "claude-code-acp --verbose" {
		t.Errorf("Agent = %+v", s.Agent)
	}
	if s.History.Backend != HistorySQLite || s.History.Limit != 20 {
		t.Errorf("History = %+v", s.History)
	}
	if s.StallTimeout.Duration != 90*time.Second {
		t.Errorf("StallTimeout = %v, want 90s", s.StallTimeout)
	}
	if s.Sandbox == nil || s.Sandbox.Type != SandboxFirejail {
		t.Fatalf("Sandbox = %+v", s.Sandbox)
	}
	if s.Sandbox.AllowNetworking == nil || *s.Sandbox.AllowNetworking {
		t.Error("AllowNetworking should be explicitly false")
	}
	if s.Web.Host != DefaultWebHost || s.Web.Port != 8080 {
		t.Errorf("Web = %+v", s.Web)
	}
}

func TestParse_UnknownModeFallsBackToAsk(t *testing.T) {
	s, err := Parse([]byte(`{"approval_mode": "yolo"}`), "json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.ApprovalMode != permission.ModeAskEveryTime {
		t.Errorf("ApprovalMode = %q, want ask-every-time", s.ApprovalMode)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"backend":     `{"agent": {"backend": "gpt"}}`,
		"acp command": `{"agent": {"backend": "acp"}}`,
		"history":     `{"history": {"backend": "redis"}}`,
		"sandbox":     `{"sandbox": {"type": "chroot"}}`,
		"duration":    `{"stall_timeout": "soon"}`,
		"syntax":      `{`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data), "json"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	in := Settings{StallTimeout: Duration{2 * time.Minute}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"stall_timeout":"2m0s"`) {
		t.Errorf("marshalled = %s", data)
	}

	var d Duration
	if err := json.Unmarshal([]byte(`45`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 45*time.Second {
		t.Errorf("numeric duration = %v, want 45s", d.Duration)
	}
}

func TestLoadSettings_CreatesDefaults(t *testing.T) {
	dir := useTempDataDir(t)

	s, path, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if path != filepath.Join(dir, appdir.SettingsFileName) {
		t.Errorf("path = %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings.json was not created: %v", err)
	}
	if s.Agent.Backend != BackendClaudeCLI {
		t.Errorf("Agent.Backend = %q", s.Agent.Backend)
	}
}

func TestSaveAndReloadSettings(t *testing.T) {
	useTempDataDir(t)

	s := Defaults()
	s.ApprovalMode = permission.ModeAutoApproveAll
	s.LastProject = "/work/app"
	if err := SaveSettings(s); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got, _, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got.ApprovalMode != permission.ModeAutoApproveAll || got.LastProject != "/work/app" {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestLoadFrom_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccdesk.yaml")
	os.WriteFile(path, []byte("approval_mode: auto-approve-all\n"), 0o644)

	s, gotPath, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if gotPath != path || s.ApprovalMode != permission.ModeAutoApproveAll {
		t.Errorf("LoadFrom = %+v, %q", s, gotPath)
	}
}
