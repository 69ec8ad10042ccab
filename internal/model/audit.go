package model

import (
	"time"

	"github.com/google/uuid"
)

// Outcome of a finalized pipeline run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeFailed  Outcome = "failed"
	OutcomePartial Outcome = "partial" // reasoning loop exhausted its turn budget
)

// AuditRecord is written exactly once per finalized event.
type AuditRecord struct {
	ID           int64          `json:"id"`
	EventID      uuid.UUID      `json:"event_id"`
	Source       EventSource    `json:"source"`
	ActionType   string         `json:"action_type"`
	Outcome      Outcome        `json:"outcome"`
	Details      map[string]any `json:"details"`
	ModelUsed    string         `json:"model_used"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	LatencyMs    int64          `json:"latency_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}
