package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	dirName  = ".marketplace_scraper"
	fileName = "config.json"
)

// Settings is the locally persisted configuration.
type Settings struct {
	ChromiumPath string `json:"chromium_path,omitempty"`
}

// Store persists Settings as JSON in a single file.
type Store struct {
	mu       sync.Mutex
	filename string
}

// DefaultPath returns ~/.marketplace_scraper/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

func NewStore(filename string) *Store {
	return &Store{filename: filename}
}

func (s *Store) Path() string {
	return s.filename
}

// Load returns the stored settings, or zero settings when no file exists yet.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Settings
	data, err := os.ReadFile(s.filename)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to decode settings %s: %w", s.filename, err)
	}

	return st, nil
}

func (s *Store) Save(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filename), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "    ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filename)
}
