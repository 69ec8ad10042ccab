// Package worker runs the consumer pool that pulls events off the queue and
// drives them through the pipeline, plus the retry manager and the
// reclaimer that recovers events stranded by crashed workers.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sukru-can1/the-agent/internal/model"
)

// Queue is the worker-facing slice of the priority queue.
type Queue interface {
	Dequeue(ctx context.Context) (uuid.UUID, error)
	Enqueue(ctx context.Context, eventID uuid.UUID, priority model.Priority, notBefore time.Time) error
}

// Leases is the worker-facing slice of the lease manager.
type Leases interface {
	AcquireEvent(ctx context.Context, eventID uuid.UUID, holderID string) (bool, error)
	ExtendEvent(ctx context.Context, eventID uuid.UUID, holderID string) (bool, error)
	ReleaseEvent(ctx context.Context, eventID uuid.UUID, holderID string) error
}

// LeaseChecker reports whether an event lease is currently held. The
// reclaimer uses it to leave live events alone.
type LeaseChecker interface {
	HeldEvent(ctx context.Context, eventID uuid.UUID) (bool, error)
}

// Events is the worker-facing slice of the event store.
type Events interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Event, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.EventStatus, errMsg *string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Event, error)
}

// Runner processes one event through the pipeline.
type Runner interface {
	Run(ctx context.Context, event *model.Event) error
}

// DeadLetters persists exhausted events.
type DeadLetters interface {
	Create(ctx context.Context, rec *model.DeadLetterRecord) error
}

// ErrorHistory accumulates per-retry failure messages so the dead letter
// record can show the full trail, not just the last error.
type ErrorHistory interface {
	Append(ctx context.Context, eventID uuid.UUID, entry model.ErrorEntry) error
	Get(ctx context.Context, eventID uuid.UUID) ([]model.ErrorEntry, error)
	Clear(ctx context.Context, eventID uuid.UUID) error
}
