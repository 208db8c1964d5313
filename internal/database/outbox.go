package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox rows move from pending to processed once the relay has published
// them. A failed publish is retried with backoff until MaxRetryCount, after
// which the row is parked as dead_letter for manual inspection.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	MaxRetryCount = 5

	// DefaultTargetStream receives run completion events.
	DefaultTargetStream = "stream:scrape_runs"

	maxRetryBackoff = 5 * time.Minute
)

// ErrOutboxEventNotFound is returned when an update targets an unknown event.
var ErrOutboxEventNotFound = errors.New("outbox event not found")

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type,
	payload, target_stream, status, retry_count,
	error_message, created_at, processed_at, next_retry_at`

// OutboxEvent is a run event written in the same transaction as the run it
// describes, waiting to be published to TargetStream.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// Validate checks the fields the relay relies on.
func (e *OutboxEvent) Validate() error {
	switch {
	case e.AggregateType == "":
		return fmt.Errorf("outbox event: aggregate type is required")
	case e.AggregateID == "":
		return fmt.Errorf("outbox event: aggregate id is required")
	case e.EventType == "":
		return fmt.Errorf("outbox event: event type is required")
	case !json.Valid(e.Payload):
		return fmt.Errorf("outbox event: payload must be valid JSON")
	}
	return nil
}

// OutboxRepository stores run events for the relay.
type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx queues event inside tx, filling in ID, status, stream and
// schedule when unset. The event becomes visible to the relay on commit.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultTargetStream
	}
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}
	event.CreatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to queue %s event for %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}

// GetPending returns up to limit events due for publishing, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`,
		OutboxStatusPending, OutboxStatusFailed, time.Now(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read due events: %w", err)
	}

	return events, nil
}

func scanOutboxEvent(row pgx.Row) (*OutboxEvent, error) {
	event := &OutboxEvent{}
	err := row.Scan(
		&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
		&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
		&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox event: %w", err)
	}
	return event, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE outbox_event
		SET status = $1, processed_at = $2
		WHERE id = $3`, OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrOutboxEventNotFound, id)
	}
	return nil
}

// MarkFailed records the error and schedules a retry, moving the event to the
// dead letter state once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.pool.QueryRow(ctx, `
		UPDATE outbox_event
		SET retry_count = retry_count + 1, error_message = $1
		WHERE id = $2
		RETURNING retry_count`, processErr.Error(), id).Scan(&retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrOutboxEventNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to record failure for event %s: %w", id, err)
	}

	status, nextRetryAt := retryState(retryCount, time.Now())

	_, err = r.db.pool.Exec(ctx, `
		UPDATE outbox_event
		SET status = $1, next_retry_at = $2
		WHERE id = $3`, status, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule event %s: %w", id, err)
	}
	return nil
}

// retryState returns the status and next attempt time after the given number
// of failed attempts.
func retryState(retryCount int, now time.Time) (string, time.Time) {
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}
	return status, now.Add(retryBackoff(retryCount))
}

// retryBackoff is 2^n seconds, capped.
func retryBackoff(retryCount int) time.Duration {
	if retryCount > 8 {
		return maxRetryBackoff
	}
	return min(time.Duration(1<<retryCount)*time.Second, maxRetryBackoff)
}

// Counts returns how many events are waiting to be relayed and how many were
// given up on.
func (r *OutboxRepository) Counts(ctx context.Context) (pending, deadLetter int64, err error) {
	err = r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`,
		OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter,
	).Scan(&pending, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return pending, deadLetter, nil
}
