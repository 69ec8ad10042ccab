// Package reason holds the LLM-backed pipeline stages: classification,
// planning, and the bounded tool-calling loop.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sukru-can1/the-agent/common/llm"
	"github.com/sukru-can1/the-agent/internal/model"
)

const classifierSystemPrompt = `You classify operational events for an autonomous assistant.
Respond with a single JSON object and nothing else:
{
  "category": "support|billing|scheduling|development|review|other",
  "urgency": 1|3|5|7|9,
  "complexity": "simple|moderate|complex",
  "involves_vip": bool,
  "involves_financial": bool,
  "needs_response": bool,
  "confidence": 0.0-1.0,
  "detected_language": "ISO 639-1 code"
}
Urgency: 1 critical, 3 high, 5 medium, 7 low, 9 background.`

// Classifier assigns category, urgency, and complexity to an event. With no
// LLM client configured it falls back to deterministic heuristics.
type Classifier struct {
	client llm.AgentClient
}

func NewClassifier(client llm.AgentClient) *Classifier {
	return &Classifier{client: client}
}

// Classify returns a classification for the event. LLM failures propagate
// to the caller; the heuristic path never fails.
func (c *Classifier) Classify(ctx context.Context, event *model.Event) (*model.Classification, error) {
	if c.client == nil {
		return c.heuristic(event), nil
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("classify: encode payload: %w", err)
	}

	resp, err := c.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Source: %s\nEvent type: %s\nPayload: %s",
				event.Source, event.EventType, payload)},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	classification, err := parseClassification(resp.Content)
	if err != nil {
		// A malformed response is not worth failing the event over.
		slog.WarnContext(ctx, "classifier returned malformed output, using heuristics",
			"event_id", event.ID,
			"error", err)
		return c.heuristic(event), nil
	}
	return classification, nil
}

func parseClassification(content string) (*model.Classification, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var classification model.Classification
	if err := json.Unmarshal([]byte(raw), &classification); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	if !classification.Urgency.Valid() {
		classification.Urgency = model.PriorityMedium
	}
	switch classification.Complexity {
	case model.ComplexitySimple, model.ComplexityModerate, model.ComplexityComplex:
	default:
		classification.Complexity = model.ComplexityModerate
	}
	return &classification, nil
}

// extractJSONObject pulls the first top-level JSON object out of a model
// response that may wrap it in prose or code fences.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

// urgent terms checked by the heuristic path.
var urgentTerms = []string{"urgent", "asap", "immediately", "outage", "down", "critical", "emergency"}

func (c *Classifier) heuristic(event *model.Event) *model.Classification {
	classification := &model.Classification{
		Category:         "other",
		Urgency:          event.Priority,
		Complexity:       model.ComplexitySimple,
		NeedsResponse:    event.Source == model.SourceEmail || event.Source == model.SourceChat,
		Confidence:       0.3,
		DetectedLanguage: "en",
	}

	switch event.Source {
	case model.SourceTicketing:
		classification.Category = "support"
	case model.SourceReviews:
		classification.Category = "review"
	case model.SourceTaskBoard:
		classification.Category = "development"
	case model.SourceScheduler:
		classification.Category = "scheduling"
	}

	text := gatherText(event.Payload)
	for _, term := range urgentTerms {
		if strings.Contains(text, term) {
			if classification.Urgency > model.PriorityHigh {
				classification.Urgency = model.PriorityHigh
			}
			break
		}
	}
	return classification
}

func gatherText(payload map[string]any) string {
	var b strings.Builder
	for _, v := range payload {
		if s, ok := v.(string); ok {
			b.WriteString(strings.ToLower(s))
			b.WriteByte(' ')
		}
	}
	return b.String()
}
