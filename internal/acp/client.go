// Package acp runs coding agents that speak the Agent Client Protocol and
// adapts them to the agent.Agent contract.
package acp

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/ccdesk/ccdesk/internal/agent"
	"github.com/ccdesk/ccdesk/internal/permission"
)

// Client implements acp.Client for a single run. Message chunks become agent
// events and permission requests go through the run's PermissionFunc.
type Client struct {
	NoTerminal

	fs          FileSystem
	autoApprove bool
	permissions agent.PermissionFunc
	emit        func(agent.Event) bool
	logger      *slog.Logger

	mu     sync.Mutex
	output strings.Builder
}

var _ acp.Client = (*Client)(nil)

// ClientConfig configures a Client.
type ClientConfig struct {
	// AutoApprove answers every permission request with an allow option
	// without consulting Permissions.
	AutoApprove bool
	Permissions agent.PermissionFunc
	// Emit delivers an event to the session. It reports false once the
	// run has been cancelled.
	Emit       func(agent.Event) bool
	FileSystem FileSystem
	Logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	fs := cfg.FileSystem
	if fs == nil {
		fs = DefaultFileSystem
	}
	emit := cfg.Emit
	if emit == nil {
		emit = func(agent.Event) bool { return false }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		fs:          fs,
		autoApprove: cfg.AutoApprove,
		permissions: cfg.Permissions,
		emit:        emit,
		logger:      logger,
	}
}

// Output returns the concatenated agent message text received so far.
func (c *Client) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

// RequestPermission maps the tool call to a gate request and answers with
// the matching allow or reject option.
func (c *Client) RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	if c.autoApprove {
		return AutoApprovePermission(params.Options), nil
	}

	req := agent.PermissionRequest{ID: string(params.ToolCall.ToolCallId)}
	if params.ToolCall.Kind != nil {
		req.Tool = GateTool(string(*params.ToolCall.Kind))
	} else {
		req.Tool = GateTool("")
	}
	if params.ToolCall.Title != nil {
		req.Description = *params.ToolCall.Title
	}
	if req.Tool == permission.ToolBash {
		if cmd := rawCommand(params.ToolCall.RawInput); cmd != "" {
			req.Description = permission.DescribeCommand(cmd)
		}
	}

	if c.permissions == nil {
		c.logger.Warn("permission requested without a handler, rejecting", "tool", req.Tool)
		return SelectPermission(params.Options, false), nil
	}

	allowed, err := c.permissions(ctx, req)
	if err != nil {
		c.logger.Debug("permission request cancelled", "tool", req.Tool, "error", err)
		return CancelledPermissionResponse(), nil
	}
	c.logger.Debug("permission resolved", "tool", req.Tool, "allowed", allowed)
	return SelectPermission(params.Options, allowed), nil
}

// rawCommand extracts the shell command from an execute tool call's raw
// input, which agents send either as a string or as an argv list.
func rawCommand(raw any) string {
	m, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	switch cmd := m["command"].(type) {
	case string:
		return cmd
	case []any:
		parts := make([]string, 0, len(cmd))
		for _, p := range cmd {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// SessionUpdate forwards agent message text as fragments: ACP agents stream
// tokens, not lines. Other updates are logged.
func (c *Client) SessionUpdate(ctx context.Context, params acp.SessionNotification) error {
	u := params.Update
	switch {
	case u.AgentMessageChunk != nil:
		if text := u.AgentMessageChunk.Content.Text; text != nil && text.Text != "" {
			c.mu.Lock()
			c.output.WriteString(text.Text)
			c.mu.Unlock()
			c.emit(agent.Fragment(text.Text))
		}
	case u.ToolCall != nil:
		c.logger.Debug("tool call", "id", u.ToolCall.ToolCallId, "title", u.ToolCall.Title, "status", u.ToolCall.Status)
	case u.ToolCallUpdate != nil:
		c.logger.Debug("tool call update", "id", u.ToolCallUpdate.ToolCallId)
	case u.AgentThoughtChunk != nil:
		c.logger.Debug("agent thought")
	}
	return nil
}

// WriteTextFile writes through the client's FileSystem.
func (c *Client) WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	if err := c.fs.WriteTextFile(params.Path, params.Content); err != nil {
		return acp.WriteTextFileResponse{}, err
	}
	c.logger.Debug("agent wrote file", "path", params.Path, "bytes", len(params.Content))
	return acp.WriteTextFileResponse{}, nil
}

// ReadTextFile reads through the client's FileSystem.
func (c *Client) ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	content, err := c.fs.ReadTextFile(params.Path, params.Line, params.Limit)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}
