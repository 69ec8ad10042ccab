package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sukru-can1/the-agent/common/id"
	"github.com/sukru-can1/the-agent/core/db"
	"github.com/sukru-can1/the-agent/internal/model"
)

// DeadLetterStore persists events that exhausted their retries.
type DeadLetterStore struct {
	q db.Querier
}

func NewDeadLetterStore(q db.Querier) *DeadLetterStore {
	return &DeadLetterStore{q: q}
}

const deadLetterColumns = `id, original_event_id, source, event_type, priority, payload,
	error_history, retry_count, created_at, resolved_at, resolved_by`

// Create inserts a dead letter record, assigning it a snowflake ID.
func (s *DeadLetterStore) Create(ctx context.Context, rec *model.DeadLetterRecord) error {
	if rec.ID == 0 {
		rec.ID = id.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO dead_letters (id, original_event_id, source, event_type, priority,
			payload, error_history, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.OriginalEventID, rec.Source, rec.EventType, rec.Priority,
		rec.Payload, rec.ErrorHistory, rec.RetryCount, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create dead letter: %w", err)
	}
	return nil
}

// GetByID fetches a single dead letter record.
func (s *DeadLetterStore) GetByID(ctx context.Context, recID int64) (*model.DeadLetterRecord, error) {
	row := s.q.QueryRow(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1`, recID)
	rec, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get dead letter %d: %w", recID, err)
	}
	return rec, nil
}

// List returns dead letter records, newest first. When unresolvedOnly is
// set, resolved records are excluded.
func (s *DeadLetterStore) List(ctx context.Context, unresolvedOnly bool, limit int) ([]*model.DeadLetterRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.q.Query(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE NOT $1 OR resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2`, unresolvedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var recs []*model.DeadLetterRecord
	for rows.Next() {
		rec, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountUnresolved reports how many records still need operator attention.
func (s *DeadLetterStore) CountUnresolved(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM dead_letters WHERE resolved_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unresolved dead letters: %w", err)
	}
	return count, nil
}

// Resolve marks a record as handled by an operator. Resolving an already
// resolved record is an error.
func (s *DeadLetterStore) Resolve(ctx context.Context, recID int64, resolvedBy string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE dead_letters
		SET resolved_at = now(), resolved_by = $2
		WHERE id = $1 AND resolved_at IS NULL`,
		recID, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolve dead letter %d: %w", recID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*model.DeadLetterRecord, error) {
	var rec model.DeadLetterRecord
	err := row.Scan(
		&rec.ID, &rec.OriginalEventID, &rec.Source, &rec.EventType, &rec.Priority,
		&rec.Payload, &rec.ErrorHistory, &rec.RetryCount, &rec.CreatedAt,
		&rec.ResolvedAt, &rec.ResolvedBy)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
