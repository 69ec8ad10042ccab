package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sukru-can1/the-agent/core/db"
	"github.com/sukru-can1/the-agent/internal/model"
)

// EventStore persists event records.
type EventStore struct {
	q db.Querier
}

func NewEventStore(q db.Querier) *EventStore {
	return &EventStore{q: q}
}

// WithTx returns an EventStore bound to the given transaction.
func (s *EventStore) WithTx(tx pgx.Tx) *EventStore {
	return &EventStore{q: tx}
}

const eventColumns = `id, source, event_type, priority, payload, idempotency_key,
	status, retry_count, error, created_at, updated_at, processed_at`

// Create inserts a new event record. Conflicting idempotency keys are
// treated as an error; the dedup marker should have caught them upstream.
func (s *EventStore) Create(ctx context.Context, event *model.Event) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO events (id, source, event_type, priority, payload, idempotency_key,
			status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Source, event.EventType, event.Priority, event.Payload,
		event.IdempotencyKey, event.Status, event.RetryCount, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// GetByID fetches a single event record.
func (s *EventStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	row := s.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return event, nil
}

// UpdateStatus transitions an event's status. A non-nil errMsg records the
// failure reason; terminal transitions also stamp processed_at.
func (s *EventStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.EventStatus, errMsg *string) error {
	var processedAt *time.Time
	if status == model.StatusCompleted || status == model.StatusFailed || status == model.StatusDeadLetter {
		now := time.Now().UTC()
		processedAt = &now
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE events
		SET status = $2, error = $3, processed_at = COALESCE($4, processed_at), updated_at = now()
		WHERE id = $1`,
		id, status, errMsg, processedAt)
	if err != nil {
		return fmt.Errorf("update event %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry bumps the retry counter and returns the new count.
func (s *EventStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `
		UPDATE events
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING retry_count`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment retry for event %s: %w", id, err)
	}
	return count, nil
}

// List returns recent events, optionally filtered by status, newest first.
func (s *EventStore) List(ctx context.Context, status *model.EventStatus, limit int) ([]*model.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListStaleProcessing returns events stuck in processing longer than the
// cutoff. The reclaimer re-enqueues these after a worker crash.
func (s *EventStore) ListStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE status = $1 AND updated_at < now() - $2::interval
		ORDER BY updated_at ASC
		LIMIT $3`,
		model.StatusProcessing, olderThan.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale processing events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var event model.Event
	err := row.Scan(
		&event.ID, &event.Source, &event.EventType, &event.Priority, &event.Payload,
		&event.IdempotencyKey, &event.Status, &event.RetryCount, &event.Error,
		&event.CreatedAt, &event.UpdatedAt, &event.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &event, nil
}
