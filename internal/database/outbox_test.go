package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		retries    int
		wantStatus string
		wantDelay  time.Duration
	}{
		{1, OutboxStatusFailed, 2 * time.Second},
		{3, OutboxStatusFailed, 8 * time.Second},
		{MaxRetryCount, OutboxStatusDeadLetter, 32 * time.Second},
		{20, OutboxStatusDeadLetter, 300 * time.Second},
	}

	for _, tt := range tests {
		status, next := retryState(tt.retries, now)
		assert.Equal(t, tt.wantStatus, status, "retries=%d", tt.retries)
		assert.Equal(t, now.Add(tt.wantDelay), next, "retries=%d", tt.retries)
	}
}

func TestOutboxEvent_Validate(t *testing.T) {
	valid := OutboxEvent{
		AggregateType: "scrape_run",
		AggregateID:   "run-1",
		EventType:     "scrape.run_completed",
		Payload:       json.RawMessage(`{}`),
	}
	assert.NoError(t, valid.Validate())

	missingType := valid
	missingType.AggregateType = ""
	assert.Error(t, missingType.Validate())

	missingID := valid
	missingID.AggregateID = ""
	assert.Error(t, missingID.Validate())

	missingEvent := valid
	missingEvent.EventType = ""
	assert.Error(t, missingEvent.Validate())

	badPayload := valid
	badPayload.Payload = json.RawMessage(`nope`)
	assert.Error(t, badPayload.Validate())
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "scraper", Password: "p@ss", Database: "runs"}
	assert.Equal(t, "postgres://scraper:p%40ss@db:5432/runs?sslmode=disable", cfg.DSN())
}

// setupTestDB connects to TEST_DATABASE_URL and applies the schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	db := &DB{pool: pool}
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return db
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "scrape_run",
		AggregateID:   uuid.NewString(),
		EventType:     "scrape.run_completed",
		Payload:       json.RawMessage(`{"total":1}`),
	}

	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, DefaultTargetStream, event.TargetStream)

	pending, err := repo.GetPending(ctx, 100)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, event.ID))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))
	require.NoError(t, repo.MarkProcessed(ctx, event.ID))

	pending, err = repo.GetPending(ctx, 100)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID))

	assert.ErrorIs(t, repo.MarkProcessed(ctx, uuid.New()), ErrOutboxEventNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.New(), errors.New("redis down")), ErrOutboxEventNotFound)
}

func TestOutboxRepository_RollbackDiscardsEvent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "scrape_run",
		AggregateID:   uuid.NewString(),
		EventType:     "scrape.run_completed",
		Payload:       json.RawMessage(`{}`),
	}

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := repo.InsertWithTx(ctx, tx, event); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	pending, err := repo.GetPending(ctx, 100)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID))
}

func TestRunRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	runs := NewRunRepository(db)

	report := models.NewReport([]models.Outcome{
		models.Success("https://www.ebay.com/itm/1", &models.Record{
			URL:        "https://www.ebay.com/itm/1",
			Site:       "ebay",
			Price:      models.Float(9.99),
			StockState: models.StockInStock,
		}),
		models.Failure("https://www.ebay.com/itm/2", errors.New("navigation failed")),
	})
	now := time.Now().UTC().Truncate(time.Millisecond)
	run := NewRun("ebay", report, now.Add(-time.Minute), now)

	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return runs.InsertWithTx(ctx, tx, run, report)
	}))

	got, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)

	_, err = runs.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}
