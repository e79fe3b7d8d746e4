// Package appdir locates the ccdesk data directory, which stores
// settings.json and the per-project conversation history.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DirEnv overrides the data directory.
	DirEnv = "CCDESK_DIR"

	// SettingsFileName is the name of the settings file.
	SettingsFileName = "settings.json"

	// HistoryDirName is the subdirectory holding conversation logs.
	HistoryDirName = "history"

	// LogsDirName is the subdirectory holding rotated log files.
	LogsDirName = "logs"
)

var (
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the ccdesk data directory path:
//  1. CCDESK_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/ccdesk
//     - Linux: $XDG_DATA_HOME/ccdesk or ~/.local/share/ccdesk
//     - Windows: %APPDATA%\ccdesk
//
// It does not create the directory; see EnsureDir.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}
	cachedDir = dir
	return dir, nil
}

func resolveDir() (string, error) {
	if envDir := os.Getenv(DirEnv); envDir != "" {
		return envDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "ccdesk"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "ccdesk"), nil
	default:
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "ccdesk"), nil
	}
}

// EnsureDir creates the data directory and its history and logs subdirectories.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	for _, d := range []string{dir, filepath.Join(dir, HistoryDirName), filepath.Join(dir, LogsDirName)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// SettingsPath returns the full path to settings.json.
func SettingsPath() (string, error) {
	return join(SettingsFileName)
}

// HistoryDir returns the directory holding conversation logs.
func HistoryDir() (string, error) {
	return join(HistoryDirName)
}

// LogFilePath returns the default rotating log file path.
func LogFilePath() (string, error) {
	return join(LogsDirName, "ccdesk.log")
}

func join(elem ...string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// ResetCache clears the cached directory path. Used by tests.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
