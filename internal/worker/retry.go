package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sukru-can1/the-agent/common/logger"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/notify"
	"github.com/sukru-can1/the-agent/internal/pipeline"
)

const (
	defaultBaseDelay = 30 * time.Second
	defaultMaxDelay  = 15 * time.Minute
)

// RetryManager decides what happens to a failed event: immediate failure
// for fatal errors, backoff re-enqueue for retryable ones, and the dead
// letter queue once the retry budget is exhausted.
type RetryManager struct {
	queue       Queue
	events      Events
	deadLetters DeadLetters
	history     ErrorHistory
	notifier    notify.Notifier
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewRetryManager(queue Queue, events Events, deadLetters DeadLetters, history ErrorHistory, notifier notify.Notifier, maxRetries int) *RetryManager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &RetryManager{
		queue:       queue,
		events:      events,
		deadLetters: deadLetters,
		history:     history,
		notifier:    notifier,
		maxRetries:  maxRetries,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
}

// Backoff returns the delay before the given retry attempt (1-based).
// Doubles per attempt from the base delay, capped at the max delay.
func (m *RetryManager) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			return m.maxDelay
		}
	}
	if delay > m.maxDelay {
		return m.maxDelay
	}
	return delay
}

// HandleFailure routes a failed event. Every failure consumes one retry
// unit, including fatal ones, so a fatal event that gets manually
// re-published cannot fail indefinitely for free.
func (m *RetryManager) HandleFailure(ctx context.Context, event *model.Event, stageErr *pipeline.StageError) {
	count, err := m.events.IncrementRetry(ctx, event.ID)
	if err != nil {
		slog.ErrorContext(ctx, "retry count update failed",
			"event_id", event.ID,
			"error", err)
		count = event.RetryCount + 1
	}

	if err := m.history.Append(ctx, event.ID, model.ErrorEntry{
		Retry: count,
		Error: stageErr.Error(),
	}); err != nil {
		slog.WarnContext(ctx, "error history append failed",
			"event_id", event.ID,
			"error", err)
	}

	errMsg := logger.Ptr(stageErr.Error())

	if stageErr.Kind == pipeline.KindFatal {
		if err := m.events.UpdateStatus(ctx, event.ID, model.StatusFailed, errMsg); err != nil {
			slog.ErrorContext(ctx, "mark event failed", "event_id", event.ID, "error", err)
		}
		slog.ErrorContext(ctx, "event failed",
			"event_id", event.ID,
			"stage", stageErr.Stage,
			"error", stageErr.Err)
		return
	}

	if count >= m.maxRetries {
		m.deadLetter(ctx, event, errMsg, count)
		return
	}

	delay := m.Backoff(count)
	if err := m.events.UpdateStatus(ctx, event.ID, model.StatusPending, errMsg); err != nil {
		slog.ErrorContext(ctx, "mark event pending for retry", "event_id", event.ID, "error", err)
	}
	if err := m.queue.Enqueue(ctx, event.ID, event.Priority, time.Now().Add(delay)); err != nil {
		slog.ErrorContext(ctx, "re-enqueue for retry failed",
			"event_id", event.ID,
			"error", err)
		return
	}

	slog.WarnContext(ctx, "event scheduled for retry",
		"event_id", event.ID,
		"retry", count,
		"max_retries", m.maxRetries,
		"delay", delay,
		"stage", stageErr.Stage,
		"error", stageErr.Err)
}

func (m *RetryManager) deadLetter(ctx context.Context, event *model.Event, errMsg *string, count int) {
	trail, err := m.history.Get(ctx, event.ID)
	if err != nil {
		slog.WarnContext(ctx, "error history read failed", "event_id", event.ID, "error", err)
	}

	rec := &model.DeadLetterRecord{
		OriginalEventID: event.ID,
		Source:          event.Source,
		EventType:       event.EventType,
		Priority:        event.Priority,
		Payload:         event.Payload,
		ErrorHistory:    trail,
		RetryCount:      count,
	}

	if err := m.deadLetters.Create(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "dead letter create failed",
			"event_id", event.ID,
			"error", err)
		// Leave the event failed rather than losing it entirely.
		if err := m.events.UpdateStatus(ctx, event.ID, model.StatusFailed, errMsg); err != nil {
			slog.ErrorContext(ctx, "mark event failed", "event_id", event.ID, "error", err)
		}
		return
	}

	if err := m.events.UpdateStatus(ctx, event.ID, model.StatusDeadLetter, errMsg); err != nil {
		slog.ErrorContext(ctx, "mark event dead-lettered", "event_id", event.ID, "error", err)
	}
	if err := m.history.Clear(ctx, event.ID); err != nil {
		slog.WarnContext(ctx, "error history clear failed", "event_id", event.ID, "error", err)
	}

	m.notifier.Notify(ctx, notify.Notification{
		EventID: event.ID,
		Kind:    "dead_letter",
		Title:   fmt.Sprintf("Event dead-lettered after %d retries", count),
		Reason:  *errMsg,
		Details: map[string]any{
			"source":     event.Source,
			"event_type": event.EventType,
		},
	})

	slog.ErrorContext(ctx, "event dead-lettered",
		"event_id", event.ID,
		"retries", count)
}
