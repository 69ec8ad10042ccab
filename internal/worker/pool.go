package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sukru-can1/the-agent/common/logger"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/pipeline"
	"github.com/sukru-can1/the-agent/internal/queue"
)

// Config tunes the consumer pool.
type Config struct {
	Workers        int
	IdleDelay      time.Duration // sleep when the queue is empty
	PausedDelay    time.Duration // sleep when the queue is paused
	DrainTimeout   time.Duration // grace for in-flight events on shutdown
	LeaseHeartbeat time.Duration // how often an in-flight event's lease is extended
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = time.Second
	}
	if c.PausedDelay <= 0 {
		c.PausedDelay = 2 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.LeaseHeartbeat <= 0 {
		c.LeaseHeartbeat = 10 * time.Second
	}
	return c
}

// Pool runs a fixed number of consumer goroutines. Each worker dequeues an
// event, takes its lease, runs the pipeline, and hands failures to the
// retry manager. At most cfg.Workers events are in flight at once.
type Pool struct {
	cfg    Config
	queue  Queue
	leases Leases
	events Events
	runner Runner
	retry  *RetryManager
}

func NewPool(cfg Config, q Queue, leases Leases, events Events, runner Runner, retry *RetryManager) *Pool {
	return &Pool{
		cfg:    cfg.withDefaults(),
		queue:  q,
		leases: leases,
		events: events,
		runner: runner,
		retry:  retry,
	}
}

// Run blocks until ctx is cancelled, then gives in-flight events the drain
// timeout to finish before returning.
func (p *Pool) Run(ctx context.Context) error {
	// Processing continues past shutdown for up to the drain timeout, so
	// in-flight events run on a context detached from ctx.
	procCtx, cancelProc := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelProc()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, procCtx, workerID)
		}()
	}

	slog.InfoContext(ctx, "consumer pool started", "workers", p.cfg.Workers)
	<-ctx.Done()
	slog.Info("consumer pool draining", "timeout", p.cfg.DrainTimeout)

	drainTimer := time.AfterFunc(p.cfg.DrainTimeout, cancelProc)
	defer drainTimer.Stop()

	wg.Wait()
	slog.Info("consumer pool stopped")
	return nil
}

func (p *Pool) workerLoop(ctx, procCtx context.Context, workerID string) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{WorkerID: logger.Ptr(workerID)})

	for {
		if ctx.Err() != nil {
			return
		}

		eventID, err := p.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, queue.ErrPaused):
			sleep(ctx, p.cfg.PausedDelay)
			continue
		case errors.Is(err, queue.ErrEmpty):
			sleep(ctx, p.cfg.IdleDelay)
			continue
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			slog.ErrorContext(ctx, "dequeue failed", "error", err)
			sleep(ctx, p.cfg.IdleDelay)
			continue
		}

		p.handleEvent(logger.WithLogFields(procCtx, logger.LogFields{WorkerID: logger.Ptr(workerID)}), eventID, workerID)
	}
}

func (p *Pool) handleEvent(ctx context.Context, eventID uuid.UUID, workerID string) {
	event, err := p.events.GetByID(ctx, eventID)
	if err != nil {
		// A queue entry without a record is a stray; drop it.
		slog.WarnContext(ctx, "dequeued event not found, dropping",
			"event_id", eventID,
			"error", err)
		return
	}

	if event.Status.Terminal() {
		slog.DebugContext(ctx, "skipping terminal event",
			"event_id", eventID,
			"status", event.Status)
		return
	}

	acquired, err := p.leases.AcquireEvent(ctx, eventID, workerID)
	if err != nil {
		// Unknown lease state: skip rather than risk double processing.
		// The reclaimer re-enqueues the event if nobody ran it.
		slog.WarnContext(ctx, "lease acquire failed, skipping event",
			"event_id", eventID,
			"error", err)
		return
	}
	if !acquired {
		slog.DebugContext(ctx, "event leased elsewhere, skipping",
			"event_id", eventID)
		return
	}
	defer func() {
		if err := p.leases.ReleaseEvent(context.WithoutCancel(ctx), eventID, workerID); err != nil {
			slog.WarnContext(ctx, "lease release failed",
				"event_id", eventID,
				"error", err)
		}
	}()

	// Keep the lease alive while the pipeline runs; a single reasoning
	// pass routinely outlives the base TTL.
	stopHeartbeat := p.heartbeatLease(ctx, eventID, workerID)
	defer stopHeartbeat()

	if err := p.events.UpdateStatus(ctx, eventID, model.StatusProcessing, nil); err != nil {
		slog.ErrorContext(ctx, "mark event processing failed",
			"event_id", eventID,
			"error", err)
		return
	}

	runErr := p.runSafe(ctx, event)
	if runErr != nil {
		p.retry.HandleFailure(ctx, event, pipeline.AsStageError(runErr))
		return
	}

	if err := p.events.UpdateStatus(ctx, eventID, model.StatusCompleted, nil); err != nil {
		slog.ErrorContext(ctx, "mark event completed failed",
			"event_id", eventID,
			"error", err)
	}
}

// heartbeatLease extends the event lease on an interval until the returned
// stop function is called.
func (p *Pool) heartbeatLease(ctx context.Context, eventID uuid.UUID, workerID string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.LeaseHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				extended, err := p.leases.ExtendEvent(hbCtx, eventID, workerID)
				if err != nil {
					slog.WarnContext(hbCtx, "lease extend failed",
						"event_id", eventID,
						"error", err)
					continue
				}
				if !extended {
					slog.WarnContext(hbCtx, "lease lost during processing",
						"event_id", eventID)
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// runSafe converts a pipeline panic into a fatal stage error so one bad
// event cannot take the worker down.
func (p *Pool) runSafe(ctx context.Context, event *model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while processing event",
				"event_id", event.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = &pipeline.StageError{
				Stage: pipeline.StageReasoning,
				Kind:  pipeline.KindFatal,
				Err:   fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return p.runner.Run(ctx, event)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
