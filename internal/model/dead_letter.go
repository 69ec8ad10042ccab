package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrorEntry is one failure in a dead-lettered event's history.
type ErrorEntry struct {
	Retry int    `json:"retry"`
	Error string `json:"error"`
}

// DeadLetterRecord holds an event that exhausted its retry budget,
// pending human resolution.
type DeadLetterRecord struct {
	ID              int64          `json:"id"`
	OriginalEventID uuid.UUID      `json:"original_event_id"`
	Source          EventSource    `json:"source"`
	EventType       string         `json:"event_type"`
	Priority        Priority       `json:"priority"`
	Payload         map[string]any `json:"payload"`
	ErrorHistory    []ErrorEntry   `json:"error_history"`
	RetryCount      int            `json:"retry_count"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy      *string        `json:"resolved_by,omitempty"`
}

func (r *DeadLetterRecord) Resolved() bool {
	return r.ResolvedAt != nil
}
