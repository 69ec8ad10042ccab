package model

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for events. Lower number = more urgent.
type Priority int

const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 3
	PriorityMedium     Priority = 5
	PriorityLow        Priority = 7
	PriorityBackground Priority = 9
)

func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// EventStatus tracks an event through its lifecycle.
// completed and dead_letter are terminal; they are never mutated afterwards
// except for administrative resolution metadata.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
	StatusDeadLetter EventStatus = "dead_letter"
)

func (s EventStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// EventSource identifies the producer system an event came from.
type EventSource string

const (
	SourceTicketing EventSource = "ticketing"
	SourceEmail     EventSource = "email"
	SourceChat      EventSource = "chat"
	SourceTaskBoard EventSource = "taskboard"
	SourceReviews   EventSource = "reviews"
	SourceScheduler EventSource = "scheduler"
	SourceAdmin     EventSource = "admin"
)

// Event is one unit of inbound work requiring pipeline processing.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	Source         EventSource    `json:"source"`
	EventType      string         `json:"event_type"`
	Priority       Priority       `json:"priority"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Status         EventStatus    `json:"status"`
	RetryCount     int            `json:"retry_count"`
	Error          *string        `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

// NewEvent builds a pending event with a fresh id.
func NewEvent(source EventSource, eventType string, priority Priority, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	if !priority.Valid() {
		priority = PriorityMedium
	}
	now := time.Now().UTC()
	return &Event{
		ID:        uuid.New(),
		Source:    source,
		EventType: eventType,
		Priority:  priority,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
