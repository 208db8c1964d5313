package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

type EventType string

const (
	// EventTypeRunCompleted is published once a batch run has been stored.
	EventTypeRunCompleted EventType = "scrape.run_completed"

	AggregateScrapeRun = "scrape_run"
)

// RunCompletedPayload summarises a finished batch for downstream consumers.
type RunCompletedPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Site       string    `json:"site"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FailedURLs []string  `json:"failed_urls"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func NewRunCompletedPayload(run *database.Run, report *models.Report) *RunCompletedPayload {
	failed := report.FailedURLs
	if failed == nil {
		failed = []string{}
	}
	return &RunCompletedPayload{
		EventID:    uuid.New().String(),
		EventType:  string(EventTypeRunCompleted),
		Timestamp:  run.FinishedAt,
		RunID:      run.ID.String(),
		Site:       run.Site,
		Total:      run.Total,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		FailedURLs: failed,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

// OutboxEvent wraps the payload for the transactional outbox.
func (p *RunCompletedPayload) OutboxEvent() (*database.OutboxEvent, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &database.OutboxEvent{
		AggregateType: AggregateScrapeRun,
		AggregateID:   p.RunID,
		EventType:     p.EventType,
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}, nil
}

// Publisher stores finished runs and their completion event in one
// transaction.
type Publisher struct {
	db     *database.DB
	runs   *database.RunRepository
	outbox *database.OutboxRepository
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		runs:   database.NewRunRepository(db),
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishRunCompleted persists the report and enqueues the completion event.
func (p *Publisher) PublishRunCompleted(ctx context.Context, site string, report *models.Report, startedAt, finishedAt time.Time) (uuid.UUID, error) {
	run := database.NewRun(site, report, startedAt, finishedAt)
	payload := NewRunCompletedPayload(run, report)

	event, err := payload.OutboxEvent()
	if err != nil {
		return uuid.Nil, err
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.runs.InsertWithTx(ctx, tx, run, report); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish run %s: %w", run.ID, err)
	}

	p.logger.Info("run recorded",
		"run_id", run.ID,
		"site", site,
		"total", run.Total,
		"failed", run.Failed,
		"event_id", payload.EventID)

	return run.ID, nil
}
