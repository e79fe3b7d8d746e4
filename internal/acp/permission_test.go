package acp

import (
	"testing"

	"github.com/coder/acp-go-sdk"

	"github.com/ccdesk/ccdesk/internal/permission"
)

var testOptions = []acp.PermissionOption{
	{OptionId: "deny", Name: "Deny", Kind: acp.PermissionOptionKindRejectOnce},
	{OptionId: "always", Name: "Always", Kind: acp.PermissionOptionKindAllowAlways},
	{OptionId: "once", Name: "Once", Kind: acp.PermissionOptionKindAllowOnce},
}

func selectedID(t *testing.T, resp acp.RequestPermissionResponse) string {
	t.Helper()
	if resp.Outcome.Selected == nil {
		return ""
	}
	return string(resp.Outcome.Selected.OptionId)
}

func TestAutoApprovePermission(t *testing.T) {
	if got := selectedID(t, AutoApprovePermission(testOptions)); got != "once" {
		t.Errorf("selected %q, want once", got)
	}
	onlyAlways := testOptions[:2]
	if got := selectedID(t, AutoApprovePermission(onlyAlways)); got != "always" {
		t.Errorf("selected %q, want always", got)
	}
	noAllow := []acp.PermissionOption{{OptionId: "first", Kind: acp.PermissionOptionKindRejectOnce}}
	if got := selectedID(t, AutoApprovePermission(noAllow)); got != "first" {
		t.Errorf("selected %q, want first", got)
	}
	if resp := AutoApprovePermission(nil); resp.Outcome.Cancelled == nil {
		t.Error("no options should cancel")
	}
}

func TestSelectPermission(t *testing.T) {
	if got := selectedID(t, SelectPermission(testOptions, true)); got != "once" {
		t.Errorf("allow selected %q", got)
	}
	if got := selectedID(t, SelectPermission(testOptions, false)); got != "deny" {
		t.Errorf("reject selected %q", got)
	}
	if resp := SelectPermission(testOptions[1:], false); resp.Outcome.Cancelled == nil {
		t.Error("reject without a reject option should cancel")
	}
}

func TestGateTool(t *testing.T) {
	tests := map[string]string{
		"read":    permission.ToolRead,
		"search":  permission.ToolGrep,
		"execute": permission.ToolBash,
		"edit":    permission.ToolEdit,
		"":        "other",
		"custom":  "custom",
	}
	for kind, want := range tests {
		if got := GateTool(kind); got != want {
			t.Errorf("GateTool(%q) = %q, want %q", kind, got, want)
		}
	}
	if permission.Classify(GateTool("read")) != permission.ReadOnly {
		t.Error("read kind should be read-only")
	}
	if permission.Classify(GateTool("execute")) != permission.Mutating {
		t.Error("execute kind should be mutating")
	}
}
