// Package web serves the controller over HTTP and a websocket.
//
// # WebSocket protocol
//
// GET /ws upgrades to a websocket. Every message in either direction is a
// JSON envelope:
//
//	{"type": "message_type", "data": {...}}
//
// On connect the server sends a "snapshot" message, then streams controller
// events as they happen. Clients may send commands on the same socket.
package web

import (
	"encoding/json"

	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/permission"
	"github.com/ccdesk/ccdesk/internal/session"
)

// WSMessage is the websocket envelope.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Server to client message types.
const (
	// Data: Snapshot
	MsgSnapshot = "snapshot"
	// Data: {"state": string}
	MsgState = "state"
	// Data: {"text": string}
	MsgActivity = "activity"
	// Data: conversation.Turn
	MsgTurn = "turn"
	// Data: session.PendingPermission
	MsgPermission = "permission"
	// Data: {"message": string, "command": string}
	MsgError = "error"
)

// Client to server message types.
const (
	// Data: {"prompt": string}
	CmdPrompt = "prompt"
	// Data: none
	CmdStop = "stop"
	// Data: {"turn_id": string}
	CmdRetry = "retry"
	// Data: none
	CmdClear = "clear"
	// Data: {"id": string, "approve": bool}
	CmdPermission = "permission_answer"
)

// Snapshot is the full view a client needs to render the session.
type Snapshot struct {
	Project      string                      `json:"project"`
	State        session.State               `json:"state"`
	ApprovalMode permission.Mode             `json:"approval_mode"`
	Turns        []conversation.Turn         `json:"turns"`
	Pending      []session.PendingPermission `json:"pending_permissions"`
}

type statePayload struct {
	State session.State `json:"state"`
}

type activityPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type retryRequest struct {
	TurnID string `json:"turn_id"`
}

type permissionAnswer struct {
	ID      string `json:"id"`
	Approve bool   `json:"approve"`
}

type projectRequest struct {
	Dir string `json:"dir"`
}

func encode(msgType string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(WSMessage{Type: msgType, Data: raw})
}
