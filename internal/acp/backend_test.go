package acp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/ccdesk/ccdesk/internal/acp/acptest"
	"github.com/ccdesk/ccdesk/internal/agent"
	"github.com/ccdesk/ccdesk/internal/permission"
)

func fakeBackend(fake *acptest.Agent) *Backend {
	return NewBackend(BackendOptions{
		Spawn: func(ctx context.Context, workDir string) (*Process, error) {
			return &Process{
				Stdin:  fake.Stdin(),
				Stdout: fake.Stdout(),
				Stop:   fake.Stop,
				Wait:   fake.Wait,
			}, nil
		},
	})
}

func runToCompletion(t *testing.T, b *Backend, req agent.Request) []agent.Event {
	t.Helper()
	events := make(chan agent.Event, 32)
	if err := b.Start(context.Background(), req, events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	var got []agent.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			if ev.Kind == agent.EventCompleted {
				return got
			}
		case <-timeout:
			t.Fatalf("no completed event, got %+v", got)
		}
	}
}

func TestBackend_StreamsMessageChunks(t *testing.T) {
	fake := acptest.Start(acptest.Step{Chunk: "Hello "}, acptest.Step{Chunk: "world"})
	defer fake.Stop()
	b := fakeBackend(fake)

	got := runToCompletion(t, b, agent.Request{SessionID: "s1", Prompt: "greet", WorkDir: "/work/app"})

	var chunks []string
	for _, ev := range got {
		if ev.Kind == agent.EventFragment {
			chunks = append(chunks, ev.Text)
		}
	}
	if strings.Join(chunks, "") != "Hello world" {
		t.Errorf("chunks = %q", chunks)
	}
	last := got[len(got)-1]
	if !last.Success || last.Text != "Hello world" {
		t.Errorf("completed = %+v", last)
	}
	if p := fake.Prompts(); len(p) != 1 || p[0] != "greet" {
		t.Errorf("prompts = %q", p)
	}
	if fake.Cwd() != "/work/app" {
		t.Errorf("cwd = %q", fake.Cwd())
	}
}

func TestBackend_PermissionRoutedThroughRequest(t *testing.T) {
	for _, tt := range []struct {
		allow bool
		want  string
	}{
		{true, "allow"},
		{false, "reject"},
	} {
		fake := acptest.Start(
			acptest.Step{Permission: &acptest.Permission{ToolCallID: "call-1", Title: "rm -rf build", Kind: "execute"}},
			acptest.Step{Chunk: "done"},
		)
		b := fakeBackend(fake)

		var (
			mu   sync.Mutex
			seen []agent.PermissionRequest
		)
		req := agent.Request{
			SessionID: "s1",
			Prompt:    "clean",
			Permissions: func(ctx context.Context, pr agent.PermissionRequest) (bool, error) {
				mu.Lock()
				seen = append(seen, pr)
				mu.Unlock()
				return tt.allow, nil
			},
		}
		runToCompletion(t, b, req)
		fake.Stop()

		if got := fake.Outcomes(); len(got) != 1 || got[0] != tt.want {
			t.Errorf("allow=%v outcomes = %q, want %q", tt.allow, got, tt.want)
		}
		mu.Lock()
		if len(seen) != 1 {
			t.Fatalf("permission calls = %d", len(seen))
		}
		if seen[0].ID != "call-1" || seen[0].Tool != permission.ToolBash || seen[0].Description != "rm -rf build" {
			t.Errorf("request = %+v", seen[0])
		}
		mu.Unlock()
	}
}

func TestBackend_BashPermissionDescribesCommand(t *testing.T) {
	for _, tt := range []struct {
		name string
		raw  map[string]any
		want string
	}{
		{"string", map[string]any{"command": "ls -la && rm -rf build"}, "Run: ls, rm (destructive)"},
		{"argv", map[string]any{"command": []any{"git", "status"}}, "Run: git status"},
		{"missing", map[string]any{"cwd": "/tmp"}, "Clean build"},
	} {
		fake := acptest.Start(acptest.Step{Permission: &acptest.Permission{
			ToolCallID: "call-1",
			Title:      "Clean build",
			Kind:       "execute",
			RawInput:   tt.raw,
		}})
		b := fakeBackend(fake)

		var (
			mu   sync.Mutex
			desc string
		)
		runToCompletion(t, b, agent.Request{
			SessionID: "s1",
			Prompt:    "clean",
			Permissions: func(ctx context.Context, pr agent.PermissionRequest) (bool, error) {
				mu.Lock()
				desc = pr.Description
				mu.Unlock()
				return true, nil
			},
		})
		fake.Stop()

		mu.Lock()
		if desc != tt.want {
			t.Errorf("%s: description = %q, want %q", tt.name, desc, tt.want)
		}
		mu.Unlock()
	}
}

func TestBackend_AutoApproveSkipsPermissionFunc(t *testing.T) {
	fake := acptest.Start(acptest.Step{Permission: &acptest.Permission{ToolCallID: "c", Kind: "edit"}})
	defer fake.Stop()
	b := fakeBackend(fake)

	called := false
	runToCompletion(t, b, agent.Request{
		SessionID:   "s1",
		Prompt:      "x",
		AutoApprove: true,
		Permissions: func(context.Context, agent.PermissionRequest) (bool, error) {
			called = true
			return false, nil
		},
	})
	if called {
		t.Error("permission func called in auto-approve mode")
	}
	if got := fake.Outcomes(); len(got) != 1 || got[0] != "allow" {
		t.Errorf("outcomes = %q", got)
	}
}

func TestBackend_PermissionErrorCancelsRequest(t *testing.T) {
	fake := acptest.Start(acptest.Step{Permission: &acptest.Permission{ToolCallID: "c", Kind: "delete"}})
	defer fake.Stop()
	b := fakeBackend(fake)

	runToCompletion(t, b, agent.Request{
		SessionID: "s1",
		Prompt:    "x",
		Permissions: func(context.Context, agent.PermissionRequest) (bool, error) {
			return false, context.Canceled
		},
	})
	if got := fake.Outcomes(); len(got) != 1 || got[0] != "cancelled" {
		t.Errorf("outcomes = %q", got)
	}
}

func TestBackend_PromptErrorFailsRun(t *testing.T) {
	fake := acptest.Start(acptest.Step{Fail: "model overloaded"})
	defer fake.Stop()
	b := fakeBackend(fake)

	got := runToCompletion(t, b, agent.Request{SessionID: "s1", Prompt: "x"})
	last := got[len(got)-1]
	if last.Success || !strings.Contains(last.Text, "model overloaded") {
		t.Errorf("completed = %+v", last)
	}
}

func TestBackend_CancelStopsRun(t *testing.T) {
	fake := acptest.Start(acptest.Step{Chunk: "working"}, acptest.Step{WaitForCancel: true})
	defer fake.Stop()
	b := fakeBackend(fake)

	events := make(chan agent.Event, 32)
	if err := b.Start(context.Background(), agent.Request{SessionID: "s1", Prompt: "x"}, events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Kind != agent.EventFragment {
			t.Fatalf("first event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk before cancel")
	}

	if err := b.Cancel("s1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	select {
	case <-fake.Cancelled():
	case <-time.After(5 * time.Second):
		t.Fatal("agent never saw the cancellation")
	}
	if err := b.Cancel("s1"); err != nil {
		t.Errorf("second Cancel = %v, want nil", err)
	}
}

func TestBackend_SpawnFailure(t *testing.T) {
	b := NewBackend(BackendOptions{Command: ""})
	err := b.Start(context.Background(), agent.Request{SessionID: "s1", Prompt: "x"}, make(chan agent.Event, 1))
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Start = %v, want ErrEmptyCommand", err)
	}

	b = NewBackend(BackendOptions{Command: "/nonexistent/acp-agent"})
	if err := b.Start(context.Background(), agent.Request{SessionID: "s1", Prompt: "x", WorkDir: t.TempDir()}, make(chan agent.Event, 1)); err == nil {
		t.Error("missing binary should fail to start")
	}
}

func TestClient_SessionUpdateEmitsChunks(t *testing.T) {
	var got []agent.Event
	c := NewClient(ClientConfig{Emit: func(ev agent.Event) bool {
		got = append(got, ev)
		return true
	}})

	for _, text := range []string{"Hello", "", " there"} {
		err := c.SessionUpdate(context.Background(), acpsdk.SessionNotification{
			Update: acpsdk.SessionUpdate{
				AgentMessageChunk: &acpsdk.SessionUpdateAgentMessageChunk{
					Content: acpsdk.ContentBlock{Text: &acpsdk.ContentBlockText{Text: text}},
				},
			},
		})
		if err != nil {
			t.Fatalf("SessionUpdate: %v", err)
		}
	}

	if len(got) != 2 || got[0].Text != "Hello" || got[1].Text != " there" || got[0].Kind != agent.EventFragment {
		t.Errorf("events = %+v", got)
	}
	if c.Output() != "Hello there" {
		t.Errorf("Output = %q", c.Output())
	}
}
