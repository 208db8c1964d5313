package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/api"
	"github.com/maltedev/marketplace-scraper/internal/app"
	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/events"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/site"
	"github.com/maltedev/marketplace-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launcher, err := app.NewLauncher(cfg, log)
	if err != nil {
		log.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}

	opts := api.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		BatchTimeout:   cfg.Scraper.BatchTimeout,
	}

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()

		opts.Recorder = events.NewPublisher(db, log)
		opts.Stats = database.NewOutboxRepository(db)
		opts.Runs = database.NewRunRepository(db)

		if cfg.Redis.Addr != "" {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}

			relay := database.NewRelay(db, redisClient, log, database.RelayConfig{
				PollInterval: cfg.Relay.PollInterval,
				BatchSize:    cfg.Relay.BatchSize,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	batch := scraper.NewBatch(launcher, scraper.New(log), log)
	handlers := api.NewHandlers(batch, site.DefaultRegistry(app.SiteOptions(cfg)), opts, log)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
