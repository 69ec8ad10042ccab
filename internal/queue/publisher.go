package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sukru-can1/the-agent/internal/model"
)

// Deduper marks idempotency keys as seen. The first call for a key returns
// true; subsequent calls within the marker TTL return false.
type Deduper interface {
	MarkSeen(ctx context.Context, key string) (bool, error)
}

// EventCreator persists new event records.
type EventCreator interface {
	Create(ctx context.Context, event *model.Event) error
}

// Enqueuer adds events to the priority queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventID uuid.UUID, priority model.Priority, enqueuedAt time.Time) error
}

// Publisher ingests events: it deduplicates on the idempotency key, persists
// the event record, then enqueues the event ID for workers.
type Publisher struct {
	dedup  Deduper
	events EventCreator
	queue  Enqueuer
}

func NewPublisher(dedup Deduper, events EventCreator, queue Enqueuer) *Publisher {
	return &Publisher{dedup: dedup, events: events, queue: queue}
}

// PublishResult reports what happened to a submitted event.
type PublishResult struct {
	EventID   uuid.UUID
	Duplicate bool
}

// Publish validates and ingests an event. Duplicate submissions (same
// idempotency key within the dedup window) are acknowledged without being
// persisted or enqueued. Events without an idempotency key skip the dedup
// check entirely; producers that cannot supply one get no dedup.
func (p *Publisher) Publish(ctx context.Context, event *model.Event) (*PublishResult, error) {
	if !event.Priority.Valid() {
		return nil, fmt.Errorf("publish: invalid priority %d", event.Priority)
	}

	if event.IdempotencyKey != "" {
		first, err := p.dedup.MarkSeen(ctx, event.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("publish: dedup check: %w", err)
		}
		if !first {
			slog.InfoContext(ctx, "duplicate event dropped",
				"idempotency_key", event.IdempotencyKey,
				"source", event.Source,
				"event_type", event.EventType)
			return &PublishResult{EventID: event.ID, Duplicate: true}, nil
		}
	}

	if err := p.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("publish: persist event: %w", err)
	}

	if err := p.queue.Enqueue(ctx, event.ID, event.Priority, event.CreatedAt); err != nil {
		return nil, fmt.Errorf("publish: enqueue event: %w", err)
	}

	slog.InfoContext(ctx, "event published",
		"event_id", event.ID,
		"source", event.Source,
		"event_type", event.EventType,
		"priority", event.Priority)

	return &PublishResult{EventID: event.ID}, nil
}
