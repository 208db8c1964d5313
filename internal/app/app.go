// Package app wires configuration into the browser, site and persistence
// components shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/settings"
	"github.com/maltedev/marketplace-scraper/internal/site"
)

// SiteOptions maps the scraper configuration onto the site profiles.
func SiteOptions(cfg *config.Config) site.Options {
	return site.Options{
		Settle:             cfg.Scraper.Settle,
		NavigationTimeout:  cfg.Scraper.NavigationTimeout,
		NavigationAttempts: cfg.Scraper.NavigationAttempts,
		StepTimeout:        cfg.Scraper.StepTimeout,
		EbayConcurrency:    cfg.Scraper.EbayConcurrency,
		AmazonConcurrency:  cfg.Scraper.AmazonConcurrency,
		AmazonZipCode:      cfg.Scraper.AmazonZipCode,
		ItemDelayMin:       cfg.Scraper.ItemDelayMin,
		ItemDelayMax:       cfg.Scraper.ItemDelayMax,
	}
}

// BrowserOptions applies the configured overrides to the defaults.
func BrowserOptions(cfg *config.Config, executable string) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.ExecutablePath = executable
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.ProxyServer = cfg.Browser.ProxyServer
	opts.ExtraHeaders["Accept-Language"] = cfg.Browser.AcceptLanguage
	if cfg.Browser.UserAgent != "" {
		opts.UserAgent = cfg.Browser.UserAgent
	}
	return opts
}

// NewLauncher resolves the Chromium executable and returns a launcher for
// it. It fails fast when no executable can be found.
func NewLauncher(cfg *config.Config, logger *slog.Logger) (*browser.PlaywrightLauncher, error) {
	settingsFile := cfg.Browser.SettingsFile
	if settingsFile == "" {
		path, err := settings.DefaultPath()
		if err != nil {
			return nil, err
		}
		settingsFile = path
	}

	resolver := &browser.Resolver{
		Configured:     cfg.Browser.ExecutablePath,
		Store:          settings.NewStore(settingsFile),
		SearchPatterns: browser.DefaultSearchPatterns(),
		Logger:         logger,
	}

	executable, err := resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve browser executable: %w", err)
	}

	return browser.NewLauncher(BrowserOptions(cfg, executable), logger), nil
}

// OpenDatabase connects and applies the schema when persistence is enabled.
// It returns nil when persistence is disabled.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
