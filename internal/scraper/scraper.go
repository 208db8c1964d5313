package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/extract"
	"github.com/maltedev/marketplace-scraper/internal/interaction"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/site"
)

var (
	ErrAcquisition        = errors.New("failed to acquire page")
	ErrNavigation         = errors.New("navigation failed")
	ErrExtraction         = errors.New("extraction failed")
	ErrBatchCancelled     = errors.New("batch cancelled")
	ErrBrowserUnavailable = errors.New("browser unavailable")
)

type itemState string

const (
	statePending      itemState = "pending"
	statePageAcquired itemState = "page_acquired"
	statePreSteps     itemState = "pre_steps_running"
	stateExtracting   itemState = "extracting"
	stateSucceeded    itemState = "succeeded"
	stateFailed       itemState = "failed"
	stateReleased     itemState = "released"
)

// retryBackoff is multiplied by the attempt number between navigation retries.
const retryBackoff = 2 * time.Second

// Scraper runs the lifecycle of a single target.
type Scraper struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scraper {
	return &Scraper{
		logger: logger.With("component", "scraper"),
	}
}

// ScrapeOne navigates to target in a fresh page, runs the profile's steps and
// extracts a record. It never returns an error: every failure is folded into
// the outcome, and the page is closed on every path.
func (s *Scraper) ScrapeOne(ctx context.Context, session browser.Session, target string, profile *site.Profile) (outcome models.Outcome) {
	logger := s.logger.With("url", target, "site", profile.Name)
	trace := func(st itemState) {
		logger.Debug("item state", "state", st)
	}

	trace(statePending)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while scraping", "panic", r)
			outcome = models.Failure(target, fmt.Errorf("unexpected fault: %v", r))
		}
		if outcome.Succeeded() {
			trace(stateSucceeded)
		} else {
			trace(stateFailed)
		}
	}()

	page, err := session.NewPage(ctx)
	if err != nil {
		return models.Failure(target, fmt.Errorf("%w: %w", ErrAcquisition, err))
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug("failed to close page", "error", err)
		}
		trace(stateReleased)
	}()
	trace(statePageAcquired)

	if err := s.navigate(ctx, page, target, profile, logger); err != nil {
		return models.Failure(target, err)
	}

	if err := interaction.Sleep(ctx, profile.Settle); err != nil {
		return models.Failure(target, cancelled(err))
	}

	if len(profile.Steps) > 0 {
		trace(statePreSteps)
		seq := interaction.NewSequencer(profile.Settle, s.logger)
		if _, err := seq.Run(ctx, page, profile.Steps); err != nil {
			if ctx.Err() != nil && !errors.Is(err, interaction.ErrRequiredStep) {
				err = cancelled(err)
			}
			return models.Failure(target, err)
		}
	}

	trace(stateExtracting)
	html, err := page.Content()
	if err != nil {
		return models.Failure(target, fmt.Errorf("%w: %w", ErrExtraction, err))
	}

	snapshotURL := page.URL()
	if snapshotURL == "" {
		snapshotURL = target
	}

	record, err := profile.Rules.Extract(extract.Snapshot{URL: snapshotURL, HTML: html})
	if err != nil {
		return models.Failure(target, fmt.Errorf("%w: %w", ErrExtraction, err))
	}

	record.URL = target
	if profile.Location != "" {
		record.Location = models.String(profile.Location)
	}

	return models.Success(target, record)
}

func (s *Scraper) navigate(ctx context.Context, page browser.Page, target string, profile *site.Profile, logger *slog.Logger) error {
	attempts := profile.NavigationAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		err := page.Goto(target, profile.NavigationTimeout)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, browser.ErrPageClosed) || attempt == attempts {
			break
		}

		logger.Warn("navigation failed, retrying", "attempt", attempt, "error", err)
		if err := interaction.Sleep(ctx, time.Duration(attempt)*retryBackoff); err != nil {
			return cancelled(err)
		}
	}

	if ctx.Err() != nil {
		return cancelled(lastErr)
	}
	return fmt.Errorf("%w: %w", ErrNavigation, lastErr)
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrBatchCancelled, err)
}
