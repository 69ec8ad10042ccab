package pipeline

import (
	"time"

	"github.com/sukru-can1/the-agent/internal/guardrail"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/reason"
)

// Stage is a step in the event pipeline.
type Stage string

const (
	StageClassifying Stage = "classifying"
	StagePlanning    Stage = "planning"
	StageGuardrail   Stage = "guardrail_check"
	StageReasoning   Stage = "reasoning"
	StageFinalizing  Stage = "finalizing"
)

// Context carries one event's state through the stages. It is owned by a
// single runner invocation and never shared across events.
type Context struct {
	Event          *model.Event
	Classification *model.Classification
	Plan           *model.Plan
	Verdict        *guardrail.Verdict
	Result         *reason.Result
	Stage          Stage
	StartedAt      time.Time
	Err            *StageError
}

// outcome maps the terminal state to the audit outcome.
func (c *Context) outcome() model.Outcome {
	switch {
	case c.Err != nil:
		return model.OutcomeFailed
	case c.Verdict != nil && !c.Verdict.Allowed:
		return model.OutcomeBlocked
	case c.Result != nil && c.Result.Exhausted:
		return model.OutcomePartial
	default:
		return model.OutcomeSuccess
	}
}
