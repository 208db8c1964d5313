package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted batch run.
type Run struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Site       string    `db:"site" json:"site"`
	Total      int       `db:"total" json:"totalUrls"`
	Succeeded  int       `db:"succeeded" json:"successfulScrapes"`
	Failed     int       `db:"failed" json:"failedScrapes"`
	StartedAt  time.Time `db:"started_at" json:"startedAt"`
	FinishedAt time.Time `db:"finished_at" json:"finishedAt"`
}

// NewRun summarises a finished report.
func NewRun(site string, report *models.Report, startedAt, finishedAt time.Time) *Run {
	return &Run{
		ID:         uuid.New(),
		Site:       site,
		Total:      report.TotalURLs,
		Succeeded:  report.SuccessfulScrapes,
		Failed:     report.FailedScrapes,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
}

// RunRepository stores runs and their per-item results.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// InsertWithTx writes the run and one row per target. Successful records
// come first in report order, then failures in report order.
func (r *RunRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, run *Run, report *models.Report) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO scrape_runs (id, site, total, succeeded, failed, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Site, run.Total, run.Succeeded, run.Failed, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	batch := &pgx.Batch{}
	position := 0
	for _, rec := range report.Results {
		var stockState *string
		if rec.StockState != "" {
			s := string(rec.StockState)
			stockState = &s
		}
		batch.Queue(`
			INSERT INTO scrape_results (
				run_id, position, url, succeeded, item_number, title,
				price, stock_count, stock_state, location
			) VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9)`,
			run.ID, position, rec.URL, rec.ItemNumber, rec.Title,
			rec.Price, rec.StockCount, stockState, rec.Location,
		)
		position++
	}
	for _, f := range report.Failures {
		batch.Queue(`
			INSERT INTO scrape_results (run_id, position, url, succeeded, error)
			VALUES ($1, $2, $3, FALSE, $4)`,
			run.ID, position, f.URL, f.Error,
		)
		position++
	}

	if batch.Len() == 0 {
		return nil
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert results: %w", err)
	}

	return nil
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	run := &Run{}
	err := r.db.QueryRow(ctx, `
		SELECT id, site, total, succeeded, failed, started_at, finished_at
		FROM scrape_runs
		WHERE id = $1`, id,
	).Scan(&run.ID, &run.Site, &run.Total, &run.Succeeded, &run.Failed, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}
