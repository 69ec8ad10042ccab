package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/sukru-can1/the-agent/internal/model"
)

type IngestEventRequest struct {
	Source         string         `json:"source" binding:"required"`
	EventType      string         `json:"event_type" binding:"required"`
	Priority       int            `json:"priority"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type IngestEventResponse struct {
	EventID   uuid.UUID `json:"event_id"`
	Duplicate bool      `json:"duplicate"`
}

type EventResponse struct {
	ID          uuid.UUID      `json:"id"`
	Source      string         `json:"source"`
	EventType   string         `json:"event_type"`
	Priority    int            `json:"priority"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	RetryCount  int            `json:"retry_count"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

func FromEvent(e *model.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		Source:      string(e.Source),
		EventType:   e.EventType,
		Priority:    int(e.Priority),
		Payload:     e.Payload,
		Status:      string(e.Status),
		RetryCount:  e.RetryCount,
		Error:       e.Error,
		CreatedAt:   e.CreatedAt,
		ProcessedAt: e.ProcessedAt,
	}
}

type ActionRecordResponse struct {
	ID           int64          `json:"id"`
	Outcome      string         `json:"outcome"`
	ActionType   string         `json:"action_type"`
	Details      map[string]any `json:"details"`
	ModelUsed    string         `json:"model_used,omitempty"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	LatencyMs    int64          `json:"latency_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

func FromAuditRecord(r *model.AuditRecord) ActionRecordResponse {
	return ActionRecordResponse{
		ID:           r.ID,
		Outcome:      string(r.Outcome),
		ActionType:   r.ActionType,
		Details:      r.Details,
		ModelUsed:    r.ModelUsed,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		LatencyMs:    r.LatencyMs,
		CreatedAt:    r.CreatedAt,
	}
}

type QueueStatusResponse struct {
	Depth       int64 `json:"depth"`
	Paused      bool  `json:"paused"`
	DeadLetters int64 `json:"dead_letters"`
}

type ApproveRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

type DeadLetterResponse struct {
	ID              int64              `json:"id"`
	OriginalEventID uuid.UUID          `json:"original_event_id"`
	Source          string             `json:"source"`
	EventType       string             `json:"event_type"`
	Priority        int                `json:"priority"`
	Payload         map[string]any     `json:"payload"`
	ErrorHistory    []model.ErrorEntry `json:"error_history"`
	RetryCount      int                `json:"retry_count"`
	CreatedAt       time.Time          `json:"created_at"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy      *string            `json:"resolved_by,omitempty"`
}

func FromDeadLetter(r *model.DeadLetterRecord) DeadLetterResponse {
	return DeadLetterResponse{
		ID:              r.ID,
		OriginalEventID: r.OriginalEventID,
		Source:          string(r.Source),
		EventType:       r.EventType,
		Priority:        int(r.Priority),
		Payload:         r.Payload,
		ErrorHistory:    r.ErrorHistory,
		RetryCount:      r.RetryCount,
		CreatedAt:       r.CreatedAt,
		ResolvedAt:      r.ResolvedAt,
		ResolvedBy:      r.ResolvedBy,
	}
}

type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
}

type RetryResponse struct {
	EventID uuid.UUID `json:"event_id"`
}
