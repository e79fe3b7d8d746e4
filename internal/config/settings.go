package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ccdesk/ccdesk/internal/appdir"
	"github.com/ccdesk/ccdesk/internal/fileutil"
	"github.com/ccdesk/ccdesk/internal/logging"
)

// LoadSettings loads settings.json from the data directory, creating it
// with defaults if it does not exist yet.
func LoadSettings() (*Settings, string, error) {
	if err := appdir.EnsureDir(); err != nil {
		return nil, "", fmt.Errorf("failed to create data directory: %w", err)
	}
	path, err := appdir.SettingsPath()
	if err != nil {
		return nil, "", err
	}

	s, err := Load(path)
	if err == nil {
		return s, path, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, path, err
	}

	s = Defaults()
	if err := fileutil.WriteJSONAtomic(path, s, 0o644); err != nil {
		return nil, path, fmt.Errorf("failed to write default settings: %w", err)
	}
	logging.Settings().Info("created default settings", "path", path)
	return s, path, nil
}

// LoadFrom loads settings from an explicit path, or from the data
// directory when path is empty.
func LoadFrom(path string) (*Settings, string, error) {
	if path == "" {
		return LoadSettings()
	}
	s, err := Load(path)
	return s, path, err
}

// SaveSettings writes settings.json in the data directory.
func SaveSettings(s *Settings) error {
	path, err := appdir.SettingsPath()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid settings: %w", err)
	}
	return fileutil.WriteJSONAtomic(path, s, 0o644)
}
