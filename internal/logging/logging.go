// Package logging provides centralized logging configuration for ccdesk.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *slog.Logger
	globalMu     sync.RWMutex

	// logWriter is either *os.File or *lumberjack.Logger.
	logWriter   io.WriteCloser
	logWriterMu sync.Mutex

	// allowedComponents is nil when every component is logged.
	allowedComponents map[string]bool
	componentsMu      sync.RWMutex
)

// FileLogConfig holds configuration for file-based logging with rotation.
type FileLogConfig struct {
	// Path is the log file. Empty disables file logging.
	Path string

	// MaxSizeMB is the size in megabytes that triggers rotation. Default: 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 3.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// DefaultFileLogConfig returns the default file log configuration.
func DefaultFileLogConfig() FileLogConfig {
	return FileLogConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum console level (debug, info, warn, error).
	Level string
	// FileLevel is the minimum file level. Defaults to Level.
	FileLevel string
	// FileLog enables rotating file output in addition to the console.
	FileLog *FileLogConfig
	// JSON switches both outputs to JSON.
	JSON bool
	// Components restricts output to the named components (empty means all).
	Components []string
	// Console overrides os.Stderr as the console writer. Used by tests.
	Console io.Writer
}

// Initialize sets up the global logger with the given configuration.
// When a file log is configured, records go to both the console and the file.
func Initialize(cfg Config) error {
	consoleLevel := parseLevel(cfg.Level)
	fileLevel := consoleLevel
	if cfg.FileLevel != "" {
		fileLevel = parseLevel(cfg.FileLevel)
	}

	componentsMu.Lock()
	if len(cfg.Components) > 0 {
		allowedComponents = make(map[string]bool, len(cfg.Components))
		for _, c := range cfg.Components {
			allowedComponents[c] = true
		}
	} else {
		allowedComponents = nil
	}
	componentsMu.Unlock()

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}

	var fileWriter io.Writer
	if cfg.FileLog != nil && cfg.FileLog.Path != "" {
		maxSize := cfg.FileLog.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.FileLog.MaxBackups
		if maxBackups < 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FileLog.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   cfg.FileLog.Compress,
		}
		if err := probeWritable(cfg.FileLog.Path); err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.FileLog.Path, err)
		}
		logWriter = lj
		fileWriter = lj
	}

	createHandler := func(w io.Writer, level slog.Level) slog.Handler {
		opts := &slog.HandlerOptions{Level: level}
		if cfg.JSON {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}

	var handler slog.Handler
	switch {
	case fileWriter != nil && fileLevel != consoleLevel:
		handler = &multiHandler{handlers: []slog.Handler{
			createHandler(console, consoleLevel),
			createHandler(fileWriter, fileLevel),
		}}
	case fileWriter != nil:
		handler = createHandler(io.MultiWriter(console, fileWriter), consoleLevel)
	default:
		handler = createHandler(console, consoleLevel)
	}

	logger := slog.New(handler)

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	slog.SetDefault(logger)
	return nil
}

// probeWritable fails early on unwritable log paths; lumberjack would only
// report the error on the first write.
func probeWritable(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// multiHandler fans out log records to handlers with different levels.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// Get returns the global logger, or slog.Default() before Initialize.
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Close closes the log file, if any.
func Close() error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		err := logWriter.Close()
		logWriter = nil
		return err
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isComponentAllowed(component string) bool {
	componentsMu.RLock()
	defer componentsMu.RUnlock()

	if allowedComponents == nil {
		return true
	}
	return allowedComponents[component]
}

// componentFilterHandler drops records for components that were not selected.
type componentFilterHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !isComponentAllowed(h.component) {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *componentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if !isComponentAllowed(h.component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithAttrs(attrs), component: h.component}
}

func (h *componentFilterHandler) WithGroup(name string) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithGroup(name), component: h.component}
}

// WithComponent returns a logger tagged with component=<name>.
// If component filtering excludes it, the logger discards everything.
func WithComponent(component string) *slog.Logger {
	base := Get()
	return slog.New(&componentFilterHandler{
		inner:     base.Handler().WithAttrs([]slog.Attr{slog.String("component", component)}),
		component: component,
	})
}

// Session returns a logger for the session controller.
func Session() *slog.Logger { return WithComponent("session") }

// History returns a logger for conversation persistence.
func History() *slog.Logger { return WithComponent("history") }

// Agent returns a logger for agent backends.
func Agent() *slog.Logger { return WithComponent("agent") }

// Permission returns a logger for permission decisions.
func Permission() *slog.Logger { return WithComponent("permission") }

// Web returns a logger for the HTTP/websocket surface.
func Web() *slog.Logger { return WithComponent("web") }

// Settings returns a logger for settings loading and reloads.
func Settings() *slog.Logger { return WithComponent("config") }

// Shutdown returns a logger for shutdown events.
func Shutdown() *slog.Logger { return WithComponent("shutdown") }

// WithSession returns a child logger carrying session_id and project.
func WithSession(base *slog.Logger, sessionID, projectID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("session_id", sessionID, "project", projectID)
}

// WithClient returns a child logger carrying a websocket client id.
func WithClient(base *slog.Logger, clientID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("client_id", clientID)
}

// DowngradeInfoToDebug returns a logger that rewrites INFO records as DEBUG.
// The ACP SDK logs routine connection events at INFO.
func DowngradeInfoToDebug(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	return slog.New(&downgradeHandler{inner: logger.Handler()})
}

type downgradeHandler struct {
	inner slog.Handler
}

func (h *downgradeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level == slog.LevelInfo {
		return h.inner.Enabled(ctx, slog.LevelDebug)
	}
	return h.inner.Enabled(ctx, level)
}

func (h *downgradeHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level == slog.LevelInfo {
		rec := slog.NewRecord(r.Time, slog.LevelDebug, r.Message, r.PC)
		r.Attrs(func(a slog.Attr) bool {
			rec.AddAttrs(a)
			return true
		})
		return h.inner.Handle(ctx, rec)
	}
	return h.inner.Handle(ctx, r)
}

func (h *downgradeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &downgradeHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *downgradeHandler) WithGroup(name string) slog.Handler {
	return &downgradeHandler{inner: h.inner.WithGroup(name)}
}
