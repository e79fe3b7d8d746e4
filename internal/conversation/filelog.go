package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"github.com/ccdesk/ccdesk/internal/fileutil"
	"github.com/ccdesk/ccdesk/internal/logging"
)

const (
	lockInitialInterval = 20 * time.Millisecond
	lockMaxElapsed      = 5 * time.Second
)

// ErrLockTimeout is returned when the history file lock cannot be acquired.
var ErrLockTimeout = errors.New("timed out waiting for history lock")

// historyFile is the on-disk layout of one project's log.
type historyFile struct {
	Project string `json:"project"`
	Turns   []Turn `json:"turns"`
}

// FileLog stores one JSON document per project under a directory.
// Writes are atomic and guarded by an advisory file lock so two processes
// sharing the directory do not interleave.
type FileLog struct {
	dir    string
	logger *slog.Logger
}

// NewFileLog creates a file log rooted at dir, creating it if needed.
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileLog{dir: dir, logger: logging.History()}, nil
}

// Path returns the history file path for a project.
func (l *FileLog) Path(projectID string) string {
	sum := sha256.Sum256([]byte(projectID))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:12])+".json")
}

// Load reads the log for a project. A missing file is an empty log, and a
// corrupt file is moved aside and treated as empty.
func (l *FileLog) Load(projectID string) ([]Turn, error) {
	path := l.Path(projectID)
	var out []Turn
	err := l.withLock(path, func() error {
		var hf historyFile
		if err := fileutil.ReadJSON(path, &hf); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if isDecodeError(err) {
				l.quarantine(path, err)
				return nil
			}
			return err
		}
		out = hf.Turns
		return nil
	})
	return out, err
}

// Save replaces the log for a project.
func (l *FileLog) Save(projectID string, turns []Turn) error {
	path := l.Path(projectID)
	return l.withLock(path, func() error {
		return fileutil.WriteJSONAtomic(path, historyFile{Project: projectID, Turns: turns}, 0o644)
	})
}

// Clear removes the log for a project.
func (l *FileLog) Clear(projectID string) error {
	path := l.Path(projectID)
	return l.withLock(path, func() error {
		return fileutil.RemoveIfExists(path)
	})
}

// Close is a no-op; files are not held open between calls.
func (l *FileLog) Close() error {
	return nil
}

func (l *FileLog) withLock(path string, fn func() error) error {
	fl := flock.New(path + ".lock")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lockInitialInterval
	b.MaxElapsedTime = lockMaxElapsed

	err := backoff.Retry(func() error {
		ok, err := fl.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockTimeout
		}
		return nil
	}, b)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			l.logger.Warn("failed to release history lock", "path", path, "error", err)
		}
	}()
	return fn()
}

func (l *FileLog) quarantine(path string, cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, aside); err != nil {
		l.logger.Error("failed to move corrupt history aside", "path", path, "error", err)
		return
	}
	l.logger.Warn("corrupt history moved aside",
		"path", path,
		"moved_to", aside,
		"error", cause)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
