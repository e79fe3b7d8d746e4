// Package config holds ccdesk settings: their defaults, file formats and
// the watcher that reloads them when settings.json changes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ccdesk/ccdesk/internal/permission"
)

// Agent backends.
const (
	BackendClaudeCLI = "claude-cli"
	BackendACP       = "acp"
)

// History backends.
const (
	HistoryJSON   = "json"
	HistorySQLite = "sqlite"
)

// Sandbox types understood by the restricted runner.
const (
	SandboxExec        = "exec"
	SandboxSandboxExec = "sandbox-exec"
	SandboxFirejail    = "firejail"
	SandboxDocker      = "docker"
)

const (
	DefaultClaudeCommand = "claude"
	DefaultWebHost       = "127.0.0.1"
	DefaultWebPort       = 5757
	DefaultHistoryLimit  = 50
)

// Settings is the persisted ccdesk configuration.
type Settings struct {
	// ApprovalMode is one of ask-every-time, auto-approve-safe, auto-approve-all.
	ApprovalMode permission.Mode `json:"approval_mode" yaml:"approval_mode"`
	Agent        AgentSettings   `json:"agent" yaml:"agent"`
	History      HistorySettings `json:"history" yaml:"history"`
	// StallTimeout stops a session that produced no output for this long.
	// Zero disables the watchdog.
	StallTimeout Duration         `json:"stall_timeout" yaml:"stall_timeout"`
	Sandbox      *SandboxSettings `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
	Web          WebSettings      `json:"web" yaml:"web"`
	// LastProject is the project selected when ccdesk last ran.
	LastProject string `json:"last_project,omitempty" yaml:"last_project,omitempty"`
}

// AgentSettings selects and configures the agent backend.
type AgentSettings struct {
	Backend string `json:"backend" yaml:"backend"`
	// Command is the binary (claude-cli) or full command line (acp).
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	// EnvRemove lists extra environment variables stripped before launch.
	EnvRemove []string `json:"env_remove,omitempty" yaml:"env_remove,omitempty"`
}

// HistorySettings selects the conversation log backend.
type HistorySettings struct {
	Backend string `json:"backend" yaml:"backend"`
	Limit   int    `json:"limit" yaml:"limit"`
}

// SandboxSettings configures restricted execution of the agent.
type SandboxSettings struct {
	Type              string   `json:"type" yaml:"type"`
	AllowNetworking   *bool    `json:"allow_networking,omitempty" yaml:"allow_networking,omitempty"`
	AllowReadFolders  []string `json:"allow_read_folders,omitempty" yaml:"allow_read_folders,omitempty"`
	AllowWriteFolders []string `json:"allow_write_folders,omitempty" yaml:"allow_write_folders,omitempty"`
	DockerImage       string   `json:"docker_image,omitempty" yaml:"docker_image,omitempty"`
}

// WebSettings configures `ccdesk serve`.
type WebSettings struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Addr returns host:port.
func (w WebSettings) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// parseDuration accepts a duration string or a number of seconds.
func parseDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		if x == "" || x == "0" {
			return 0, nil
		}
		return time.ParseDuration(x)
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case int:
		return time.Duration(x) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %v", v)
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Settings {
	return &Settings{
		ApprovalMode: permission.ModeAskEveryTime,
		Agent: AgentSettings{
			Backend: BackendClaudeCLI,
			Command: DefaultClaudeCommand,
		},
		History: HistorySettings{
			Backend: HistoryJSON,
			Limit:   DefaultHistoryLimit,
		},
		Web: WebSettings{
			Host: DefaultWebHost,
			Port: DefaultWebPort,
		},
	}
}

// applyDefaults fills zero-valued fields.
func (s *Settings) applyDefaults() {
	d := Defaults()
	if s.ApprovalMode == "" {
		s.ApprovalMode = d.ApprovalMode
	}
	if s.Agent.Backend == "" {
		s.Agent.Backend = d.Agent.Backend
	}
	if s.Agent.Command == "" && s.Agent.Backend == BackendClaudeCLI {
		s.Agent.Command = DefaultClaudeCommand
	}
	if s.History.Backend == "" {
		s.History.Backend = d.History.Backend
	}
	if s.History.Limit <= 0 {
		s.History.Limit = d.History.Limit
	}
	if s.Web.Host == "" {
		s.Web.Host = d.Web.Host
	}
	if s.Web.Port == 0 {
		s.Web.Port = d.Web.Port
	}
}

// Validate checks enumerated fields. An unknown approval mode is not an
// error; it is normalized to ask-every-time.
func (s *Settings) Validate() error {
	mode, ok := permission.ParseMode(string(s.ApprovalMode))
	if !ok {
		mode = permission.ModeAskEveryTime
	}
	s.ApprovalMode = mode

	switch s.Agent.Backend {
	case BackendClaudeCLI:
	case BackendACP:
		if strings.TrimSpace(s.Agent.Command) == "" {
			return fmt.Errorf("agent backend %q requires a command", BackendACP)
		}
	default:
		return fmt.Errorf("unknown agent backend %q", s.Agent.Backend)
	}

	switch s.History.Backend {
	case HistoryJSON, HistorySQLite:
	default:
		return fmt.Errorf("unknown history backend %q", s.History.Backend)
	}

	if s.StallTimeout.Duration < 0 {
		return fmt.Errorf("stall_timeout must not be negative")
	}

	if s.Sandbox != nil {
		switch s.Sandbox.Type {
		case "", SandboxExec, SandboxSandboxExec, SandboxFirejail, SandboxDocker:
		default:
			return fmt.Errorf("unknown sandbox type %q", s.Sandbox.Type)
		}
	}

	if s.Web.Port < 0 || s.Web.Port > 65535 {
		return fmt.Errorf("invalid web port %d", s.Web.Port)
	}
	return nil
}

// Parse decodes settings in the given format ("json" or "yaml"), applies
// defaults and validates the result.
func Parse(data []byte, format string) (*Settings, error) {
	s := &Settings{}
	var err error
	switch format {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, s)
	default:
		err = json.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads settings from path. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data, formatOf(path))
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}
