package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/ratelimit"
	"github.com/maltedev/marketplace-scraper/internal/site"
	"github.com/maltedev/marketplace-scraper/internal/stream"
)

// Batch drives a list of targets through the Scraper using one browser per
// run.
type Batch struct {
	launcher   browser.Launcher
	scraper    *Scraper
	newLimiter func(min, max time.Duration) ratelimit.Limiter
	logger     *slog.Logger
}

func NewBatch(launcher browser.Launcher, scraper *Scraper, logger *slog.Logger) *Batch {
	return &Batch{
		launcher: launcher,
		scraper:  scraper,
		newLimiter: func(min, max time.Duration) ratelimit.Limiter {
			return ratelimit.NewAdaptiveRateLimiter(min, max)
		},
		logger: logger.With("component", "batch"),
	}
}

// Run scrapes every target and returns the aggregated report. The only error
// is a failure to start the browser; per-item failures are in the report.
// A concurrency of 1 processes targets one at a time; zero or less uses the
// profile's default.
func (b *Batch) Run(ctx context.Context, profile *site.Profile, targets []string, concurrency int) (*models.Report, error) {
	events, err := b.Stream(ctx, profile, targets, concurrency)
	if err != nil {
		return nil, err
	}
	return stream.Collect(events)
}

// Stream is Run with live progress. The returned channel yields one progress
// event before each item's outcome event and a final complete event, then is
// closed. Under bounded concurrency progress events keep submission order
// while outcome events arrive in completion order.
//
// The channel holds every event of the run, so the complete event is
// delivered however ctx ends and a reader that stops early never blocks the
// run. Callers that stop reading should still cancel ctx to stop scraping.
func (b *Batch) Stream(ctx context.Context, profile *site.Profile, targets []string, concurrency int) (<-chan models.Event, error) {
	var session browser.Session
	if len(targets) > 0 {
		s, err := b.launch(ctx)
		if err != nil {
			return nil, err
		}
		session = s
	}

	// one progress and one outcome per target, then complete
	events := make(chan models.Event, 2*len(targets)+1)
	go func() {
		defer close(events)
		if session != nil {
			defer b.closeSession(session)
		}

		emit := func(ev models.Event) {
			events <- ev
		}

		report := b.execute(ctx, session, profile, targets, concurrency, emit)
		emit(models.CompleteEvent(report))
	}()

	return events, nil
}

func (b *Batch) launch(ctx context.Context) (browser.Session, error) {
	session, err := b.launcher.Launch(ctx)
	if err != nil {
		b.logger.Error("failed to launch browser", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBrowserUnavailable, err)
	}
	return session, nil
}

func (b *Batch) closeSession(session browser.Session) {
	if err := session.Close(); err != nil {
		b.logger.Warn("failed to close browser", "error", err)
	}
}

func (b *Batch) execute(ctx context.Context, session browser.Session, profile *site.Profile, targets []string, concurrency int, emit func(models.Event)) *models.Report {
	if concurrency <= 0 {
		concurrency = profile.Concurrency
	}

	total := len(targets)
	outcomes := make([]models.Outcome, total)
	limiter := b.newLimiter(profile.ItemDelayMin, profile.ItemDelayMax)

	start := time.Now()
	b.logger.Info("batch started", "site", profile.Name, "targets", total, "concurrency", concurrency)

	finish := func(i int, o models.Outcome) {
		outcomes[i] = o
		if o.Succeeded() {
			limiter.RecordSuccess()
		} else {
			limiter.RecordError()
			b.logger.Warn("item failed", "url", o.Target, "error", o.Err)
		}
		emit(models.OutcomeEvent(o))
	}

	var wg sync.WaitGroup
	var sem chan struct{}
	if concurrency > 1 {
		sem = make(chan struct{}, concurrency)
	}

	dispatched := 0
dispatch:
	for i, target := range targets {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break dispatch
			}
		}

		emit(models.ProgressEvent(i+1, total, target))
		dispatched++

		if sem == nil {
			finish(i, b.scraper.ScrapeOne(ctx, session, target, profile))
			continue
		}

		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			defer func() { <-sem }()
			finish(i, b.scraper.ScrapeOne(ctx, session, target, profile))
		}(i, target)
	}
	wg.Wait()

	for i := dispatched; i < total; i++ {
		outcomes[i] = models.Failure(targets[i], cancelled(ctx.Err()))
	}

	report := models.NewReport(outcomes)
	minDelay, maxDelay := limiter.Delays()
	b.logger.Info("batch completed",
		"site", profile.Name,
		"total", report.TotalURLs,
		"succeeded", report.SuccessfulScrapes,
		"failed", report.FailedScrapes,
		"duration", time.Since(start),
		"item_delay_min", minDelay,
		"item_delay_max", maxDelay,
	)

	return report
}
