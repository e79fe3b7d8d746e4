package acp

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
)

const (
	filterInitialBuf = 1024 * 1024
	filterMaxLine    = 10 * 1024 * 1024
	filterLogPreview = 160
)

// JSONLineFilterReader passes through only lines that look like JSON-RPC
// messages (first non-blank byte is '{'). Agents that crash sometimes print
// terminal UI to stdout; those lines would otherwise break the decoder.
type JSONLineFilterReader struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	buf     []byte
}

// NewJSONLineFilterReader wraps r. Dropped lines are logged at debug level
// when logger is non-nil.
func NewJSONLineFilterReader(r io.Reader, logger *slog.Logger) *JSONLineFilterReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, filterInitialBuf), filterMaxLine)
	return &JSONLineFilterReader{scanner: scanner, logger: logger}
}

// Read implements io.Reader.
func (f *JSONLineFilterReader) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		line := f.scanner.Bytes()
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if trimmed[0] != '{' {
			f.dropped(line)
			continue
		}
		f.buf = append(append(f.buf[:0], line...), '\n')
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

func (f *JSONLineFilterReader) dropped(line []byte) {
	if f.logger == nil {
		return
	}
	preview := line
	if len(preview) > filterLogPreview {
		preview = preview[:filterLogPreview]
	}
	f.logger.Debug("filtered non-JSON line from agent stdout",
		"line", string(preview),
		"length", len(line))
}
