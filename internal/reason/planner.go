package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sukru-can1/the-agent/common/llm"
	"github.com/sukru-can1/the-agent/internal/model"
)

const plannerSystemPrompt = `You plan how an autonomous assistant should handle an operational event.
Respond with a single JSON object and nothing else:
{
  "intended_actions": ["..."],
  "tools_needed": ["..."],
  "reasoning": "...",
  "risks": ["..."]
}`

// Planner produces an action plan for non-simple events. Planning is best
// effort: any failure degrades to no plan rather than failing the event.
type Planner struct {
	client llm.AgentClient
}

func NewPlanner(client llm.AgentClient) *Planner {
	return &Planner{client: client}
}

// Plan returns a plan for the event, or nil when the event is simple, no
// client is configured, or planning failed.
func (p *Planner) Plan(ctx context.Context, event *model.Event, classification *model.Classification) *model.Plan {
	if p.client == nil || classification == nil || classification.Complexity == model.ComplexitySimple {
		return nil
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		slog.WarnContext(ctx, "planning skipped, payload not encodable",
			"event_id", event.ID,
			"error", err)
		return nil
	}

	resp, err := p.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(
				"Source: %s\nEvent type: %s\nCategory: %s\nComplexity: %s\nPayload: %s",
				event.Source, event.EventType, classification.Category,
				classification.Complexity, payload)},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		slog.WarnContext(ctx, "planning failed, continuing without a plan",
			"event_id", event.ID,
			"error", err)
		return nil
	}

	raw := extractJSONObject(resp.Content)
	if raw == "" {
		slog.WarnContext(ctx, "planner returned no JSON, continuing without a plan",
			"event_id", event.ID)
		return nil
	}

	var plan model.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		slog.WarnContext(ctx, "planner returned malformed JSON, continuing without a plan",
			"event_id", event.ID,
			"error", err)
		return nil
	}
	return &plan
}
