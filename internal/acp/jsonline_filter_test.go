package acp

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONLineFilterReader(t *testing.T) {
	const (
		req  = `{"jsonrpc":"2.0","method":"session/update"}`
		resp = `{"jsonrpc":"2.0","id":1,"result":null}`
	)
	tests := []struct {
		name, input, want string
	}{
		{"valid lines pass", req + "\n" + resp + "\n", req + "\n" + resp + "\n"},
		{"box drawing dropped", req + "\n ╭────╮\n │ Oops │\n ╰────╯\n" + resp + "\n", req + "\n" + resp + "\n"},
		{"ansi escapes dropped", req + "\n\x1b[?1004h\x1b[>1u\n" + resp + "\n", req + "\n" + resp + "\n"},
		{"blank lines dropped", req + "\n\n   \n" + resp + "\n", req + "\n" + resp + "\n"},
		{"missing trailing newline", req, req + "\n"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := io.ReadAll(NewJSONLineFilterReader(strings.NewReader(tt.input), nil))
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(out) != tt.want {
				t.Errorf("got %q, want %q", out, tt.want)
			}
		})
	}
}

func TestJSONLineFilterReader_SmallReads(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"session/prompt","params":{"text":"hello world"}}` + "\n"
	r := NewJSONLineFilterReader(strings.NewReader(input), nil)

	buf := make([]byte, 7)
	var out []byte
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if string(out) != input {
		t.Errorf("got %q, want %q", out, input)
	}
}

func TestJSONLineFilterReader_LogsDroppedLines(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	io.ReadAll(NewJSONLineFilterReader(strings.NewReader("{}\nagent crashed\n"), logger))

	if !strings.Contains(logs.String(), "filtered non-JSON line") || !strings.Contains(logs.String(), "agent crashed") {
		t.Errorf("log output = %s", logs.String())
	}
}
