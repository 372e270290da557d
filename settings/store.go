package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the settings file used when FASTSD_SETTINGS_PATH is unset.
const DefaultPath = "configs/settings.yaml"

// TempFilePattern matches the temporary files Save writes before renaming.
// A crash between the two leaves one behind.
const TempFilePattern = ".settings-*.yaml"

// ErrInvalidFile is returned when the settings file cannot be parsed.
var ErrInvalidFile = errors.New("settings: invalid settings file")

// Store reads and writes the YAML settings file.
type Store struct {
	path string
}

// NewStore returns a store for path. An empty path uses DefaultPath.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings file. A missing file yields the defaults, which are
// written back so the user has a file to edit. Out-of-range values are
// normalized.
func (s *Store) Load() (AppSettings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		def := Defaults()
		if err := s.Save(def); err != nil {
			return def, err
		}
		return def, nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("settings: reading %s: %w", s.path, err)
	}

	// Start from defaults so keys absent from the file keep their default.
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Defaults(), fmt.Errorf("%w: %s: %v", ErrInvalidFile, s.path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes settings atomically through a temporary file in the same
// directory.
func (s *Store) Save(cfg AppSettings) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("settings: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("settings: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, TempFilePattern)
	if err != nil {
		return fmt.Errorf("settings: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: writing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: writing: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("settings: replacing %s: %w", s.path, err)
	}
	return nil
}
