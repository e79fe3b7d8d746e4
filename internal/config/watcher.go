package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for coalescing file system events.
const DebounceDelay = 100 * time.Millisecond

// SettingsWatcher reloads a settings file when it changes on disk and hands
// the new settings to a callback. Invalid files are logged and skipped.
//
// The parent directory is watched rather than the file itself, so atomic
// replace-by-rename is picked up.
type SettingsWatcher struct {
	path     string
	onChange func(*Settings)
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	debounceDelay time.Duration
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewSettingsWatcher creates a watcher for path. Call Start to begin
// watching and Close when done.
func NewSettingsWatcher(path string, onChange func(*Settings), logger *slog.Logger) (*SettingsWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &SettingsWatcher{
		path:          abs,
		onChange:      onChange,
		logger:        logger,
		watcher:       w,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// SetDebounceDelay must be called before Start.
func (sw *SettingsWatcher) SetDebounceDelay(d time.Duration) {
	sw.debounceDelay = d
}

// Start begins the event loop.
func (sw *SettingsWatcher) Start() {
	go sw.eventLoop()
}

// Close stops the watcher. No callback starts after Close returns.
func (sw *SettingsWatcher) Close() error {
	var err error
	sw.once.Do(func() {
		close(sw.done)
		err = sw.watcher.Close()
		<-sw.stopped

		sw.debounceMu.Lock()
		if sw.debounceTimer != nil {
			sw.debounceTimer.Stop()
		}
		sw.debounceMu.Unlock()
	})
	return err
}

func (sw *SettingsWatcher) eventLoop() {
	defer close(sw.stopped)
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(event)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			if sw.logger != nil {
				sw.logger.Warn("settings watcher error", "error", err)
			}
		}
	}
}

func (sw *SettingsWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != sw.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	sw.debounceMu.Lock()
	defer sw.debounceMu.Unlock()
	if sw.debounceTimer != nil {
		sw.debounceTimer.Stop()
	}
	sw.debounceTimer = time.AfterFunc(sw.debounceDelay, sw.reload)
}

func (sw *SettingsWatcher) reload() {
	select {
	case <-sw.done:
		return
	default:
	}

	s, err := Load(sw.path)
	if err != nil {
		if sw.logger != nil {
			sw.logger.Warn("ignoring settings change", "path", sw.path, "error", err)
		}
		return
	}
	if sw.logger != nil {
		sw.logger.Info("settings reloaded", "path", sw.path, "approval_mode", s.ApprovalMode)
	}
	if sw.onChange != nil {
		sw.onChange(s)
	}
}
