package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sukru-can1/the-agent/common/id"
	"github.com/sukru-can1/the-agent/core/db"
	"github.com/sukru-can1/the-agent/internal/model"
)

// ActionLogStore persists the audit record written once per processed event.
type ActionLogStore struct {
	q db.Querier
}

func NewActionLogStore(q db.Querier) *ActionLogStore {
	return &ActionLogStore{q: q}
}

// Record inserts an audit record, assigning it a snowflake ID.
func (s *ActionLogStore) Record(ctx context.Context, rec *model.AuditRecord) error {
	if rec.ID == 0 {
		rec.ID = id.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO action_log (id, event_id, source, action_type, outcome, details,
			model_used, input_tokens, output_tokens, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.EventID, rec.Source, rec.ActionType, rec.Outcome, rec.Details,
		rec.ModelUsed, rec.InputTokens, rec.OutputTokens, rec.LatencyMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// ListByEvent returns audit records for one event, oldest first.
func (s *ActionLogStore) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*model.AuditRecord, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, event_id, source, action_type, outcome, details,
			model_used, input_tokens, output_tokens, latency_ms, created_at
		FROM action_log
		WHERE event_id = $1
		ORDER BY created_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list actions for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var recs []*model.AuditRecord
	for rows.Next() {
		var rec model.AuditRecord
		if err := rows.Scan(
			&rec.ID, &rec.EventID, &rec.Source, &rec.ActionType, &rec.Outcome, &rec.Details,
			&rec.ModelUsed, &rec.InputTokens, &rec.OutputTokens, &rec.LatencyMs, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action record: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
