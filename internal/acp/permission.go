package acp

import (
	"github.com/coder/acp-go-sdk"

	"github.com/ccdesk/ccdesk/internal/permission"
)

// kindTools maps ACP tool kinds to gate tool identifiers.
var kindTools = map[string]string{
	"read":    permission.ToolRead,
	"search":  permission.ToolGrep,
	"fetch":   permission.ToolWebFetch,
	"think":   permission.ToolThink,
	"edit":    permission.ToolEdit,
	"delete":  permission.ToolDelete,
	"move":    permission.ToolMove,
	"execute": permission.ToolBash,
}

// GateTool returns the gate tool identifier for an ACP tool kind. Unknown
// kinds pass through unchanged and are therefore treated as mutating.
func GateTool(kind string) string {
	if tool, ok := kindTools[kind]; ok {
		return tool
	}
	if kind == "" {
		return "other"
	}
	return kind
}

// AutoApprovePermission picks an allow option, falling back to the first
// option. With no options the request is cancelled.
func AutoApprovePermission(options []acp.PermissionOption) acp.RequestPermissionResponse {
	if opt, ok := findOption(options, acp.PermissionOptionKindAllowOnce, acp.PermissionOptionKindAllowAlways); ok {
		return selected(opt)
	}
	if len(options) > 0 {
		return selected(options[0])
	}
	return CancelledPermissionResponse()
}

// SelectPermission answers a request with the once-variant of the decision
// when offered. A rejection with no reject option cancels the request.
func SelectPermission(options []acp.PermissionOption, allow bool) acp.RequestPermissionResponse {
	if allow {
		return AutoApprovePermission(options)
	}
	if opt, ok := findOption(options, acp.PermissionOptionKindRejectOnce, acp.PermissionOptionKindRejectAlways); ok {
		return selected(opt)
	}
	return CancelledPermissionResponse()
}

// CancelledPermissionResponse returns a cancelled permission response.
func CancelledPermissionResponse() acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
	}
}

func findOption(options []acp.PermissionOption, kinds ...acp.PermissionOptionKind) (acp.PermissionOption, bool) {
	for _, kind := range kinds {
		for _, opt := range options {
			if opt.Kind == kind {
				return opt, true
			}
		}
	}
	return acp.PermissionOption{}, false
}

func selected(opt acp.PermissionOption) acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: opt.OptionId},
		},
	}
}
