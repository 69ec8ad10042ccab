// Package notify delivers operator notifications for events that need human
// attention: guardrail denials and dead-lettered events.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Notification is a human-attention request.
type Notification struct {
	EventID   uuid.UUID      `json:"event_id"`
	Kind      string         `json:"kind"` // "blocked" or "dead_letter"
	Title     string         `json:"title"`
	Reason    string         `json:"reason"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers notifications. Delivery failures must not fail the
// pipeline; implementations log and move on.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the structured log. Used when no
// webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	slog.WarnContext(ctx, "operator notification",
		"event_id", n.EventID,
		"kind", n.Kind,
		"title", n.Title,
		"reason", n.Reason)
}

// WebhookNotifier POSTs notifications as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(n)
	if err != nil {
		slog.ErrorContext(ctx, "marshal notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		slog.ErrorContext(ctx, "build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "deliver notification",
			"event_id", n.EventID,
			"kind", n.Kind,
			"error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.ErrorContext(ctx, "notification rejected",
			"event_id", n.EventID,
			"kind", n.Kind,
			"status", resp.Status)
		return
	}

	slog.DebugContext(ctx, "notification delivered",
		"event_id", n.EventID,
		"kind", n.Kind)
}

// FromURL selects the webhook notifier when a URL is configured, falling
// back to log delivery.
func FromURL(url string) Notifier {
	if url == "" {
		return LogNotifier{}
	}
	return NewWebhookNotifier(url)
}
