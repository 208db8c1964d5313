package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/maltedev/marketplace-scraper/internal/settings"
)

// ErrExecutableNotFound is returned when no usable browser executable can be
// resolved.
var ErrExecutableNotFound = errors.New("browser executable not found")

// SettingsStore persists the resolved executable path between runs.
type SettingsStore interface {
	Load() (settings.Settings, error)
	Save(settings.Settings) error
}

// Resolver finds the Chromium executable without any interactive input. The
// lookup order is: the configured path, the persisted settings file, then
// Playwright's own browser cache.
type Resolver struct {
	Configured string
	Store      SettingsStore
	// SearchPatterns are glob patterns tried in order during auto-detection.
	SearchPatterns []string
	Logger         *slog.Logger
}

// DefaultSearchPatterns lists where Playwright installs Chromium on Linux,
// macOS and Windows.
func DefaultSearchPatterns() []string {
	var patterns []string

	if dir := os.Getenv("PLAYWRIGHT_BROWSERS_PATH"); dir != "" {
		patterns = append(patterns, chromiumPatterns(dir)...)
	}
	if home, err := os.UserHomeDir(); err == nil {
		patterns = append(patterns, chromiumPatterns(filepath.Join(home, ".cache", "ms-playwright"))...)
		patterns = append(patterns, chromiumPatterns(filepath.Join(home, "Library", "Caches", "ms-playwright"))...)
	}
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		patterns = append(patterns, chromiumPatterns(filepath.Join(dir, "ms-playwright"))...)
	}

	return patterns
}

func chromiumPatterns(base string) []string {
	return []string{
		filepath.Join(base, "chromium-*", "chrome-linux", "chrome"),
		filepath.Join(base, "chromium-*", "chrome-mac", "Chromium.app", "Contents", "MacOS", "Chromium"),
		filepath.Join(base, "chromium-*", "chrome-win", "chrome.exe"),
	}
}

func (r *Resolver) Resolve() (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Configured != "" {
		if !isExecutable(r.Configured) {
			return "", fmt.Errorf("%w: configured path %s does not exist", ErrExecutableNotFound, r.Configured)
		}
		return r.Configured, nil
	}

	var stored settings.Settings
	if r.Store != nil {
		st, err := r.Store.Load()
		if err != nil {
			logger.Warn("failed to load settings", "error", err)
		}
		stored = st
		if stored.ChromiumPath != "" && isExecutable(stored.ChromiumPath) {
			return stored.ChromiumPath, nil
		}
	}

	for _, pattern := range r.SearchPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		// newest revision sorts last
		sort.Strings(matches)
		found := matches[len(matches)-1]
		if !isExecutable(found) {
			continue
		}

		logger.Info("found playwright chromium", "path", found)
		if r.Store != nil {
			stored.ChromiumPath = found
			if err := r.Store.Save(stored); err != nil {
				logger.Warn("failed to persist chromium path", "error", err)
			}
		}
		return found, nil
	}

	return "", ErrExecutableNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
