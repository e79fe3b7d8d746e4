package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdesk/ccdesk/internal/agent"
	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/session"
)

// scriptedAgent records runs so tests can drive their events.
type scriptedAgent struct {
	mu   sync.Mutex
	runs []chan<- agent.Event
	reqs []agent.Request
}

func (a *scriptedAgent) Name() string { return "scripted" }

func (a *scriptedAgent) Start(ctx context.Context, req agent.Request, events chan<- agent.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, events)
	a.reqs = append(a.reqs, req)
	return nil
}

func (a *scriptedAgent) Cancel(string) error { return nil }

func (a *scriptedAgent) run(t *testing.T) chan<- agent.Event {
	ch, _ := a.last(t)
	return ch
}

func (a *scriptedAgent) last(t *testing.T) (chan<- agent.Event, agent.Request) {
	t.Helper()
	var (
		ch  chan<- agent.Event
		req agent.Request
	)
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		if len(a.runs) == 0 {
			return false
		}
		ch, req = a.runs[len(a.runs)-1], a.reqs[len(a.reqs)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return ch, req
}

type fixture struct {
	ctrl   *session.Controller
	agent  *scriptedAgent
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newLoggedFixture(t, nil)
}

func newLoggedFixture(t *testing.T, logger *slog.Logger) *fixture {
	t.Helper()
	log, err := conversation.NewFileLog(t.TempDir())
	require.NoError(t, err)
	store := conversation.NewStore(log, 0)
	sa := &scriptedAgent{}
	ctrl := session.NewController(session.Config{Agent: sa, Store: store})
	require.NoError(t, ctrl.SwitchProject(t.TempDir()))

	srv := New(Config{Controller: ctrl, Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		ctrl.Close()
		store.Close()
	})
	return &fixture{ctrl: ctrl, agent: sa, server: srv, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.http.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil reads messages until one matches, returning it.
func readUntil(t *testing.T, conn *websocket.Conn, match func(WSMessage) bool) WSMessage {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if match(msg) {
			return msg
		}
	}
}

func TestPromptFlowOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/prompt", promptRequest{Prompt: "hello"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/prompt", promptRequest{Prompt: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "busy", decodeBody[map[string]string](t, resp)["error"])

	run := f.agent.run(t)
	run <- agent.Chunk("hi there")
	run <- agent.Completed(true, "")
	require.Eventually(t, func() bool { return f.ctrl.State() == session.StateIdle }, 2*time.Second, 5*time.Millisecond)

	resp = f.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeBody[Snapshot](t, resp)
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, conversation.RoleUser, snap.Turns[0].Role)
	assert.Equal(t, "hi there", snap.Turns[1].Content)
	assert.Equal(t, conversation.StatusComplete, snap.Turns[1].Status)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"empty prompt", http.MethodPost, "/api/prompt", promptRequest{Prompt: "  "}, http.StatusBadRequest, "empty_prompt"},
		{"stop when idle", http.MethodPost, "/api/stop", nil, http.StatusConflict, "not_running"},
		{"retry unknown turn", http.MethodPost, "/api/retry/nope", nil, http.StatusNotFound, "turn_not_found"},
		{"permission while idle", http.MethodPost, "/api/permissions/p1", permissionAnswer{Approve: true}, http.StatusConflict, "not_running"},
		{"missing dir", http.MethodPost, "/api/project", projectRequest{}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeBody[map[string]string](t, resp)["error"])
		})
	}
}

func TestInvalidBody(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.http.URL+"/api/prompt", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Submit(context.Background(), "one"))
	run := f.agent.run(t)
	run <- agent.Completed(true, "done")
	require.Eventually(t, func() bool { return f.ctrl.State() == session.StateIdle }, 2*time.Second, 5*time.Millisecond)

	resp := f.do(t, http.MethodDelete, "/api/history", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.ctrl.Turns())
}

func TestSwitchProject(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	resp := f.do(t, http.MethodPost, "/api/project", projectRequest{Dir: dir})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeBody[Snapshot](t, resp)
	assert.Equal(t, f.ctrl.Project(), snap.Project)
	assert.Empty(t, snap.Turns)
}

func TestWebSocketSnapshotThenEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	first := readMessage(t, conn)
	require.Equal(t, MsgSnapshot, first.Type)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Equal(t, f.ctrl.Project(), snap.Project)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdPrompt, "data": promptRequest{Prompt: "build it"}}))
	run := f.agent.run(t)
	run <- agent.Chunk("building")
	run <- agent.Completed(true, "built")

	msg := readUntil(t, conn, func(m WSMessage) bool {
		if m.Type != MsgTurn {
			return false
		}
		var turn conversation.Turn
		require.NoError(t, json.Unmarshal(m.Data, &turn))
		return turn.Role == conversation.RoleAssistant && turn.Status == conversation.StatusComplete
	})
	var turn conversation.Turn
	require.NoError(t, json.Unmarshal(msg.Data, &turn))
	assert.Equal(t, "built", turn.Content)

	readUntil(t, conn, func(m WSMessage) bool {
		var p statePayload
		return m.Type == MsgState && json.Unmarshal(m.Data, &p) == nil && p.State == session.StateIdle
	})
}

func TestWebSocketPermissionRoundTrip(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	readMessage(t, conn)

	require.NoError(t, f.ctrl.Submit(context.Background(), "deploy"))
	run, req := f.agent.last(t)

	decision := make(chan bool, 1)
	go func() {
		ok, err := req.Permissions(context.Background(), agent.PermissionRequest{
			ID:          "call-7",
			Tool:        "bash",
			Description: "make deploy",
		})
		assert.NoError(t, err)
		decision <- ok
	}()

	msg := readUntil(t, conn, func(m WSMessage) bool { return m.Type == MsgPermission })
	var pending session.PendingPermission
	require.NoError(t, json.Unmarshal(msg.Data, &pending))
	assert.Equal(t, "bash", pending.Tool)
	assert.Equal(t, "make deploy", pending.Description)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": CmdPermission,
		"data": permissionAnswer{ID: pending.ID, Approve: true},
	}))
	select {
	case ok := <-decision:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("permission never resolved")
	}
	run <- agent.Completed(true, "deployed")
	require.Eventually(t, func() bool { return f.ctrl.State() == session.StateIdle }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketCommandErrors(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	readMessage(t, conn)

	for _, tc := range []struct {
		raw     string
		command string
	}{
		{`{"type":"stop"}`, CmdStop},
		{`{"type":"prompt"}`, CmdPrompt},
		{`{"type":"bogus"}`, "bogus"},
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tc.raw)))
		msg := readUntil(t, conn, func(m WSMessage) bool { return m.Type == MsgError })
		var p errorPayload
		require.NoError(t, json.Unmarshal(msg.Data, &p))
		assert.Equal(t, tc.command, p.Command)
		assert.NotEmpty(t, p.Message)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWebSocketClientLogger(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newLoggedFixture(t, logger)
	conn := f.dial(t)
	readMessage(t, conn)

	var line string
	require.Eventually(t, func() bool {
		for _, l := range strings.Split(out.String(), "\n") {
			if strings.Contains(l, "websocket connected") {
				line = l
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Regexp(t, `client_id=\S+`, line)
	assert.Contains(t, line, "remote=")
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSameOrigin(t *testing.T) {
	check := originChecker([]string{"https://app.example"}, slog.New(slog.DiscardHandler))
	for _, tc := range []struct {
		origin, host string
		want         bool
	}{
		{"", "localhost:8080", true},
		{"http://localhost:8080", "localhost:8080", true},
		{"http://localhost:9090", "localhost:8080", false},
		{"https://app.example", "localhost:8080", true},
		{"http://LOCALHOST", "localhost", true},
		{"http://other", "localhost", false},
	} {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, check(r), "origin=%q host=%q", tc.origin, tc.host)
	}
}
