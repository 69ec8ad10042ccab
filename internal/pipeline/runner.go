// Package pipeline drives one event through its processing stages:
// classify, plan, guardrail check, reason, finalize. Finalize always runs
// and writes exactly one audit record per invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sukru-can1/the-agent/common/llm"
	"github.com/sukru-can1/the-agent/common/logger"
	"github.com/sukru-can1/the-agent/internal/guardrail"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/notify"
	"github.com/sukru-can1/the-agent/internal/reason"
)

// Classifier assigns category, urgency, and complexity to an event.
type Classifier interface {
	Classify(ctx context.Context, event *model.Event) (*model.Classification, error)
}

// Planner produces an optional action plan for non-simple events.
type Planner interface {
	Plan(ctx context.Context, event *model.Event, classification *model.Classification) *model.Plan
}

// Gate evaluates policy rules and rate limits.
type Gate interface {
	Evaluate(ctx context.Context, in guardrail.Input) (guardrail.Verdict, error)
}

// Reasoner runs the bounded tool-calling loop.
type Reasoner interface {
	Run(ctx context.Context, event *model.Event, classification *model.Classification, plan *model.Plan) (*reason.Result, error)
}

// AuditWriter persists the per-event audit record.
type AuditWriter interface {
	Record(ctx context.Context, rec *model.AuditRecord) error
}

// Runner executes the pipeline for one event at a time.
type Runner struct {
	classifier Classifier
	planner    Planner
	gate       Gate
	reasoner   Reasoner
	audit      AuditWriter
	notifier   notify.Notifier
}

func NewRunner(classifier Classifier, planner Planner, gate Gate, reasoner Reasoner, audit AuditWriter, notifier notify.Notifier) *Runner {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Runner{
		classifier: classifier,
		planner:    planner,
		gate:       gate,
		reasoner:   reasoner,
		audit:      audit,
		notifier:   notifier,
	}
}

// Run processes the event through all stages. A nil return means the event
// reached a terminal outcome (success, partial, or blocked); a *StageError
// return tells the caller whether to retry or fail the event. Either way
// finalize has already run and the audit record is written.
func (r *Runner) Run(ctx context.Context, event *model.Event) error {
	pc := &Context{
		Event:     event,
		StartedAt: time.Now(),
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(event.ID.String()),
		Source:    logger.Ptr(string(event.Source)),
		EventType: logger.Ptr(event.EventType),
	})

	r.runStages(ctx, pc)
	r.finalize(ctx, pc)

	if pc.Err != nil {
		return pc.Err
	}
	return nil
}

func (r *Runner) runStages(ctx context.Context, pc *Context) {
	event := pc.Event

	// Classify. A provider failure here is fatal: without a classification
	// the pipeline has nothing to act on, and retrying a systematically
	// failing classifier would only burn the retry budget slowly.
	pc.Stage = StageClassifying
	if len(event.Payload) == 0 {
		pc.Err = fatal(StageClassifying, errors.New("event payload is empty or unreadable"))
		return
	}
	classification, err := r.classifier.Classify(ctx, event)
	if err != nil {
		if errors.Is(err, llm.ErrTimeout) || errors.Is(err, context.Canceled) {
			pc.Err = retryable(StageClassifying, err)
			return
		}
		pc.Err = fatal(StageClassifying, err)
		return
	}
	pc.Classification = classification

	// Plan. Best effort; the planner degrades to nil on its own failures.
	pc.Stage = StagePlanning
	if r.planner != nil && classification.Complexity != model.ComplexitySimple {
		pc.Plan = r.planner.Plan(ctx, event, classification)
	}

	// Guardrail gate.
	pc.Stage = StageGuardrail
	verdict, err := r.gate.Evaluate(ctx, guardrail.Input{
		Event:          event,
		Classification: classification,
		Plan:           pc.Plan,
	})
	if err != nil {
		pc.Err = retryable(StageGuardrail, err)
		return
	}
	pc.Verdict = &verdict

	if !verdict.Allowed {
		// A denial is a terminal outcome, not an error. The event is done;
		// a human picks it up from the notification.
		r.notifier.Notify(ctx, notify.Notification{
			EventID: event.ID,
			Kind:    "blocked",
			Title:   fmt.Sprintf("Event blocked by %s", verdict.Rule),
			Reason:  verdict.Reason,
			Details: map[string]any{
				"source":     event.Source,
				"event_type": event.EventType,
			},
		})
		return
	}

	// Reason.
	pc.Stage = StageReasoning
	result, err := r.reasoner.Run(ctx, event, classification, pc.Plan)
	if err != nil {
		pc.Err = retryable(StageReasoning, err)
		return
	}
	pc.Result = result
}

// finalize writes the audit record and logs the terminal state. It runs on
// every path out of the stages, exactly once.
func (r *Runner) finalize(ctx context.Context, pc *Context) {
	pc.Stage = StageFinalizing
	outcome := pc.outcome()

	rec := &model.AuditRecord{
		EventID:    pc.Event.ID,
		Source:     pc.Event.Source,
		ActionType: pc.Event.EventType,
		Outcome:    outcome,
		Details:    map[string]any{},
		LatencyMs:  time.Since(pc.StartedAt).Milliseconds(),
	}

	if pc.Classification != nil {
		rec.Details["category"] = pc.Classification.Category
		rec.Details["complexity"] = string(pc.Classification.Complexity)
	}
	if pc.Verdict != nil && !pc.Verdict.Allowed {
		rec.Details["blocked_by"] = pc.Verdict.Rule
		rec.Details["block_reason"] = pc.Verdict.Reason
	}
	if pc.Result != nil {
		rec.ModelUsed = pc.Result.ModelID
		rec.InputTokens = pc.Result.InputTokens
		rec.OutputTokens = pc.Result.OutputTokens
		rec.Details["turns_used"] = pc.Result.TurnsUsed
		rec.Details["tool_calls"] = pc.Result.ToolCalls
		rec.Details["summary"] = logger.Truncate(pc.Result.FinalText, 2000)
	}
	if pc.Err != nil {
		rec.Details["stage"] = string(pc.Err.Stage)
		rec.Details["error"] = pc.Err.Err.Error()
	}

	// Audit uses a fresh context so a cancelled run still gets its record.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.audit.Record(auditCtx, rec); err != nil {
		slog.ErrorContext(ctx, "audit record write failed",
			"event_id", pc.Event.ID,
			"outcome", outcome,
			"error", err)
	}

	slog.InfoContext(ctx, "event finalized",
		"event_id", pc.Event.ID,
		"outcome", outcome,
		"latency_ms", rec.LatencyMs)
}
