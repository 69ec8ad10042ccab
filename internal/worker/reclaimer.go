package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/sukru-can1/the-agent/internal/model"
)

// Reclaimer re-enqueues events stranded in processing by crashed workers.
// An event counts as stranded when it has sat in processing longer than the
// stale cutoff AND nobody holds its lease; live workers heartbeat their
// leases, so a held lease means the event is still being worked on.
type Reclaimer struct {
	queue    Queue
	events   Events
	leases   LeaseChecker
	interval time.Duration
	cutoff   time.Duration
}

func NewReclaimer(q Queue, events Events, leases LeaseChecker, interval, leaseTTL time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	cutoff := 4 * leaseTTL
	if cutoff < 2*time.Minute {
		cutoff = 2 * time.Minute
	}
	return &Reclaimer{queue: q, events: events, leases: leases, interval: interval, cutoff: cutoff}
}

// Run loops until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.interval,
		"stale_cutoff", r.cutoff)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reclaimer stopped")
			return
		case <-ticker.C:
			r.reclaimOnce(ctx)
		}
	}
}

func (r *Reclaimer) reclaimOnce(ctx context.Context) {
	stale, err := r.events.ListStaleProcessing(ctx, r.cutoff, 100)
	if err != nil {
		slog.ErrorContext(ctx, "list stale events failed", "error", err)
		return
	}

	reclaimed := 0
	for _, event := range stale {
		held, err := r.leases.HeldEvent(ctx, event.ID)
		if err != nil {
			slog.WarnContext(ctx, "lease check failed, leaving event alone",
				"event_id", event.ID,
				"error", err)
			continue
		}
		if held {
			slog.DebugContext(ctx, "stale-looking event still leased, skipping",
				"event_id", event.ID)
			continue
		}

		if err := r.events.UpdateStatus(ctx, event.ID, model.StatusPending, nil); err != nil {
			slog.ErrorContext(ctx, "reset stale event failed",
				"event_id", event.ID,
				"error", err)
			continue
		}
		if err := r.queue.Enqueue(ctx, event.ID, event.Priority, time.Now()); err != nil {
			slog.ErrorContext(ctx, "re-enqueue stale event failed",
				"event_id", event.ID,
				"error", err)
			continue
		}
		reclaimed++
		slog.WarnContext(ctx, "stale event reclaimed",
			"event_id", event.ID,
			"source", event.Source,
			"stuck_since", event.UpdatedAt)
	}

	if reclaimed > 0 {
		slog.InfoContext(ctx, "reclaim pass finished", "reclaimed", reclaimed)
	}
}
