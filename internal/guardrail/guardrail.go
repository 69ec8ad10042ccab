// Package guardrail gates events between planning and reasoning. A fixed,
// ordered rule list runs first; the first rule that denies wins and the
// rate limit counters are left untouched. Only events that pass every rule
// consume rate limit budget.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sukru-can1/the-agent/internal/model"
)

// Input is everything the gate evaluates: the event itself plus the
// classification and plan produced by earlier stages. Plan may be nil when
// planning was skipped or degraded.
type Input struct {
	Event          *model.Event
	Classification *model.Classification
	Plan           *model.Plan
}

// Verdict is the gate's decision. Denied verdicts name the rule and carry a
// human-readable reason for the notification and audit record.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func deny(rule, reason string) Verdict {
	return Verdict{Allowed: false, Rule: rule, Reason: reason}
}

// Rule is a single deterministic policy check.
type Rule interface {
	Name() string
	Check(in Input) Verdict
}

// Limiter enforces request-rate budgets. Implementations must be checked
// only after all rules pass.
type Limiter interface {
	Allow(ctx context.Context, source model.EventSource) (Verdict, error)
}

// Engine evaluates rules in order, then the rate limiter.
type Engine struct {
	rules   []Rule
	limiter Limiter
}

func NewEngine(rules []Rule, limiter Limiter) *Engine {
	return &Engine{rules: rules, limiter: limiter}
}

// ApprovalKey marks an event a human has explicitly approved after a
// denial. Approved events skip the rule list but still consume rate limit
// budget.
const ApprovalKey = "guardrail_approved_by"

// ApprovedBy returns the approver recorded in the payload, if any.
func ApprovedBy(payload map[string]any) string {
	approver, _ := payload[ApprovalKey].(string)
	return approver
}

// Evaluate runs the gate. The same input always yields the same rule
// verdict; only the rate limiter consults external state.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Verdict, error) {
	if in.Event == nil {
		return Verdict{}, fmt.Errorf("guardrail: nil event")
	}

	if approver := ApprovedBy(in.Event.Payload); approver != "" {
		slog.InfoContext(ctx, "guardrail rules bypassed by approval",
			"event_id", in.Event.ID,
			"approved_by", approver)
		return e.checkLimiter(ctx, in)
	}

	for _, rule := range e.rules {
		if v := rule.Check(in); !v.Allowed {
			slog.InfoContext(ctx, "guardrail denied event",
				"event_id", in.Event.ID,
				"rule", v.Rule,
				"reason", v.Reason)
			return v, nil
		}
	}

	return e.checkLimiter(ctx, in)
}

func (e *Engine) checkLimiter(ctx context.Context, in Input) (Verdict, error) {
	if e.limiter == nil {
		return allow(), nil
	}

	v, err := e.limiter.Allow(ctx, in.Event.Source)
	if err != nil {
		return Verdict{}, fmt.Errorf("guardrail: rate limit check: %w", err)
	}
	if !v.Allowed {
		slog.WarnContext(ctx, "guardrail rate limited event",
			"event_id", in.Event.ID,
			"rule", v.Rule,
			"reason", v.Reason)
	}
	return v, nil
}
