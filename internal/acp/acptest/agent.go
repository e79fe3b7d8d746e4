// Package acptest provides an in-process ACP agent that speaks JSON-RPC over
// pipes and follows a fixed script, for testing ACP clients without a real
// agent binary.
package acptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// SessionID is the session identifier the fake agent hands out.
const SessionID = "fake-session"

// Step is one action performed while handling session/prompt.
type Step struct {
	// Chunk sends an agent_message_chunk with this text.
	Chunk string
	// Permission sends session/request_permission and waits for the answer.
	Permission *Permission
	// WaitForCancel blocks until session/cancel arrives or the agent is
	// stopped, then ends the turn with stop reason "cancelled".
	WaitForCancel bool
	// Fail answers the prompt with a JSON-RPC error carrying this message.
	Fail string
}

// Permission describes a tool call needing approval.
type Permission struct {
	ToolCallID string
	Title      string
	Kind       string
	RawInput   map[string]any
}

// Agent is a scripted ACP agent.
type Agent struct {
	steps []Step

	in     *io.PipeReader
	inW    *io.PipeWriter
	out    *io.PipeReader
	outW   *io.PipeWriter
	writeM sync.Mutex

	mu        sync.Mutex
	prompts   []string
	cwd       string
	outcomes  []string
	pending   map[string]chan json.RawMessage
	nextID    int
	cancelled chan struct{}
	cancelOne sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// Start runs an agent that performs steps on every prompt.
func Start(steps ...Step) *Agent {
	a := &Agent{
		steps:     steps,
		pending:   make(map[string]chan json.RawMessage),
		nextID:    1000,
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
	a.in, a.inW = io.Pipe()
	a.out, a.outW = io.Pipe()
	go a.serve()
	return a
}

// Stdin is what the client writes to.
func (a *Agent) Stdin() io.WriteCloser { return a.inW }

// Stdout is what the client reads from.
func (a *Agent) Stdout() io.Reader { return a.out }

// Stop shuts the agent down. It is safe to call more than once.
func (a *Agent) Stop() error {
	a.stopOnce.Do(func() {
		a.in.CloseWithError(io.ErrClosedPipe)
		a.outW.Close()
		a.cancel()
	})
	return nil
}

// Wait blocks until the agent has stopped reading.
func (a *Agent) Wait() error {
	<-a.done
	return nil
}

// Prompts returns the prompt texts received.
func (a *Agent) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

// Cwd returns the working directory passed to session/new.
func (a *Agent) Cwd() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cwd
}

// Outcomes returns the selected option ID for each permission request, or
// "cancelled".
func (a *Agent) Outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.outcomes...)
}

// Cancelled is closed when session/cancel is received.
func (a *Agent) Cancelled() <-chan struct{} { return a.cancelled }

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *Agent) serve() {
	defer close(a.done)
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		switch msg.Method {
		case "":
			a.mu.Lock()
			ch := a.pending[string(msg.ID)]
			delete(a.pending, string(msg.ID))
			a.mu.Unlock()
			if ch != nil {
				ch <- msg.Result
			}
		case "initialize":
			a.respond(msg.ID, map[string]any{
				"protocolVersion":   1,
				"agentCapabilities": map[string]any{"loadSession": false},
				"authMethods":       []any{},
			})
		case "session/new":
			var params struct {
				Cwd string `json:"cwd"`
			}
			json.Unmarshal(msg.Params, &params)
			a.mu.Lock()
			a.cwd = params.Cwd
			a.mu.Unlock()
			a.respond(msg.ID, map[string]any{"sessionId": SessionID})
		case "session/prompt":
			go a.prompt(msg)
		case "session/cancel":
			a.cancel()
		default:
			if len(msg.ID) > 0 {
				a.fail(msg.ID, -32601, "method not found: "+msg.Method)
			}
		}
	}
	a.cancel()
}

func (a *Agent) prompt(msg message) {
	var params struct {
		Prompt []struct {
			Text string `json:"text"`
		} `json:"prompt"`
	}
	json.Unmarshal(msg.Params, &params)
	text := ""
	if len(params.Prompt) > 0 {
		text = params.Prompt[0].Text
	}
	a.mu.Lock()
	a.prompts = append(a.prompts, text)
	a.mu.Unlock()

	for _, step := range a.steps {
		switch {
		case step.Fail != "":
			a.fail(msg.ID, -32603, step.Fail)
			return
		case step.WaitForCancel:
			<-a.cancelled
			a.respond(msg.ID, map[string]any{"stopReason": "cancelled"})
			return
		case step.Permission != nil:
			a.requestPermission(*step.Permission)
		default:
			a.notify("session/update", map[string]any{
				"sessionId": SessionID,
				"update": map[string]any{
					"sessionUpdate": "agent_message_chunk",
					"content":       map[string]any{"type": "text", "text": step.Chunk},
				},
			})
		}
	}
	a.respond(msg.ID, map[string]any{"stopReason": "end_turn"})
}

func (a *Agent) requestPermission(p Permission) {
	a.mu.Lock()
	a.nextID++
	id := strconv.Itoa(a.nextID)
	ch := make(chan json.RawMessage, 1)
	a.pending[id] = ch
	a.mu.Unlock()

	toolCall := map[string]any{
		"toolCallId": p.ToolCallID,
		"title":      p.Title,
		"kind":       p.Kind,
	}
	if p.RawInput != nil {
		toolCall["rawInput"] = p.RawInput
	}
	a.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"method":  "session/request_permission",
		"params": map[string]any{
			"sessionId": SessionID,
			"toolCall":  toolCall,
			"options": []map[string]any{
				{"optionId": "allow", "name": "Allow", "kind": "allow_once"},
				{"optionId": "reject", "name": "Reject", "kind": "reject_once"},
			},
		},
	})

	outcome := "cancelled"
	select {
	case result := <-ch:
		var resp struct {
			Outcome struct {
				Outcome  string `json:"outcome"`
				OptionID string `json:"optionId"`
			} `json:"outcome"`
		}
		if err := json.Unmarshal(result, &resp); err == nil && resp.Outcome.OptionID != "" {
			outcome = resp.Outcome.OptionID
		}
	case <-a.done:
	}
	a.mu.Lock()
	a.outcomes = append(a.outcomes, outcome)
	a.mu.Unlock()
}

func (a *Agent) cancel() {
	a.cancelOne.Do(func() { close(a.cancelled) })
}

func (a *Agent) respond(id json.RawMessage, result any) {
	a.write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (a *Agent) fail(id json.RawMessage, code int, msg string) {
	a.write(map[string]any{"jsonrpc": "2.0", "id": id, "error": rpcError{Code: code, Message: msg}})
}

func (a *Agent) notify(method string, params any) {
	a.write(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

func (a *Agent) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("acptest: marshal: %v", err))
	}
	a.writeM.Lock()
	defer a.writeM.Unlock()
	a.outW.Write(append(data, '\n'))
}
