package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/app"
	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/events"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/site"
	"github.com/maltedev/marketplace-scraper/internal/stream"
	"github.com/maltedev/marketplace-scraper/internal/targets"
	"github.com/maltedev/marketplace-scraper/pkg/logger"
)

func main() {
	var (
		siteName    = flag.String("site", site.Ebay, "Marketplace to scrape: ebay or amazon")
		urls        = flag.String("urls", "", "Comma-separated list of product URLs")
		inputFile   = flag.String("file", "", "CSV file with one product URL per row")
		concurrency = flag.Int("concurrency", 0, "Items scraped at once (0 uses the site default)")
		streamMode  = flag.Bool("stream", false, "Print one JSON event per line while scraping")
		headless    = flag.Bool("headless", true, "Run browser in headless mode")
		zip         = flag.String("zip", "", "Delivery zip code for Amazon")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	cfg.Browser.Headless = *headless && cfg.Browser.Headless
	if *zip != "" {
		cfg.Scraper.AmazonZipCode = *zip
	}

	// stdout carries results only
	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	list, err := loadTargets(*urls, *inputFile)
	if err != nil {
		log.Error("failed to load targets", "error", err)
		os.Exit(1)
	}

	profile, err := site.DefaultRegistry(app.SiteOptions(cfg)).Lookup(*siteName)
	if err != nil {
		log.Error("invalid site", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scraper.BatchTimeout)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	launcher, err := app.NewLauncher(cfg, log)
	if err != nil {
		log.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}

	batch := scraper.NewBatch(launcher, scraper.New(log), log)

	started := time.Now()
	report, err := run(ctx, batch, profile, list, *concurrency, *streamMode, os.Stdout)
	if err != nil {
		log.Error("scrape failed", "error", err)
		os.Exit(1)
	}

	recordCtx, recordCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer recordCancel()

	db, err := app.OpenDatabase(recordCtx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
	} else if db != nil {
		publisher := events.NewPublisher(db, log)
		if _, err := publisher.PublishRunCompleted(recordCtx, profile.Name, report, started, time.Now()); err != nil {
			log.Error("failed to record run", "error", err)
		}
		db.Close()
	}

	if report.FailedScrapes > 0 {
		os.Exit(2)
	}
}

func loadTargets(urls, inputFile string) ([]string, error) {
	list := targets.FromList(urls)

	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		defer f.Close()

		fromFile, err := targets.FromCSV(f)
		if err != nil {
			return nil, err
		}
		list = append(list, fromFile...)
	}

	if len(list) == 0 {
		return nil, targets.ErrNoTargets
	}
	return list, nil
}

// run executes the batch and writes either the indented report or one event
// per line to out.
func run(ctx context.Context, batch *scraper.Batch, profile *site.Profile, list []string, concurrency int, streamMode bool, out io.Writer) (*models.Report, error) {
	if !streamMode {
		report, err := batch.Run(ctx, profile, list, concurrency)
		if err != nil {
			return nil, err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return report, enc.Encode(report)
	}

	feed, err := batch.Stream(ctx, profile, list, concurrency)
	if err != nil {
		return nil, err
	}

	var report *models.Report
	tapped := make(chan models.Event)
	go func() {
		defer close(tapped)
		for ev := range feed {
			if ev.Type == models.EventComplete {
				report = ev.Report
			}
			tapped <- ev
		}
	}()

	if err := stream.WriteLines(out, tapped); err != nil {
		for range tapped {
		}
		return nil, err
	}
	if report == nil {
		return nil, stream.ErrIncomplete
	}
	return report, nil
}
