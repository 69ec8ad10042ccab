package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sukru-can1/the-agent/common/llm"
	"github.com/sukru-can1/the-agent/internal/model"
)

const defaultMaxTurns = 10

// ToolExecutor dispatches tool calls requested by the model.
type ToolExecutor interface {
	Definitions() []llm.Tool
	Execute(ctx context.Context, name, arguments string) (string, error)
}

// ToolCallRecord is one executed tool call, kept for the audit record.
type ToolCallRecord struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Result is the outcome of a reasoning run.
type Result struct {
	FinalText    string
	TurnsUsed    int
	ToolCalls    []ToolCallRecord
	InputTokens  int
	OutputTokens int
	ModelID      string
	Exhausted    bool // turn budget ran out before the model finished
}

// Engine runs the bounded tool-calling loop. Each turn sends the
// conversation to the model; tool calls are executed sequentially and their
// results appended before the next turn. When the turn budget runs out the
// engine forces a final synthesis from whatever was gathered.
type Engine struct {
	client   llm.AgentClient
	tools    ToolExecutor
	maxTurns int
}

func NewEngine(client llm.AgentClient, tools ToolExecutor, maxTurns int) *Engine {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Engine{client: client, tools: tools, maxTurns: maxTurns}
}

const reasonerSystemPrompt = `You are an autonomous operations assistant handling one event.
Use the available tools to investigate and act, then summarize what you did
and what, if anything, still needs human attention. Be concise and factual.`

// Run executes the reasoning loop for an event. The conversation state is
// owned by this call; nothing is shared across events.
func (e *Engine) Run(ctx context.Context, event *model.Event, classification *model.Classification, plan *model.Plan) (*Result, error) {
	if e.client == nil {
		return nil, fmt.Errorf("reason: no LLM client configured")
	}

	messages := []llm.Message{
		{Role: "system", Content: reasonerSystemPrompt},
		{Role: "user", Content: buildTask(event, classification, plan)},
	}

	var defs []llm.Tool
	if e.tools != nil {
		defs = e.tools.Definitions()
	}

	result := &Result{ModelID: e.client.Model()}

	for turn := 1; turn <= e.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reason: cancelled before turn %d: %w", turn, err)
		}

		resp, err := e.client.ChatWithTools(ctx, llm.AgentRequest{
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return nil, fmt.Errorf("reason: turn %d: %w", turn, err)
		}

		result.TurnsUsed = turn
		result.InputTokens += resp.PromptTokens
		result.OutputTokens += resp.CompletionTokens

		if len(resp.ToolCalls) == 0 {
			result.FinalText = resp.Content
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("reason: cancelled before tool %s: %w", call.Name, err)
			}
			record := e.executeCall(ctx, event, call)
			result.ToolCalls = append(result.ToolCalls, record)

			content := record.Result
			if record.Error != "" {
				content = toolFailurePayload(record.Error)
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	// Budget exhausted: one last call without tools so the model has to
	// wrap up with what it gathered.
	result.Exhausted = true
	slog.WarnContext(ctx, "reasoning turn budget exhausted, forcing synthesis",
		"event_id", event.ID,
		"max_turns", e.maxTurns)

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: "Stop investigating. Summarize what you found and did so far, and note anything left unfinished.",
	})

	resp, err := e.client.ChatWithTools(ctx, llm.AgentRequest{Messages: messages})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reason: forced synthesis: %w", err)
		}
		// The turns already ran; summarize from the tool records locally
		// instead of burning a retry on a finished investigation.
		slog.WarnContext(ctx, "forced synthesis failed, summarizing locally",
			"event_id", event.ID,
			"error", err)
		result.FinalText = partialSummary(result)
		return result, nil
	}
	result.InputTokens += resp.PromptTokens
	result.OutputTokens += resp.CompletionTokens
	result.FinalText = resp.Content
	if result.FinalText == "" {
		// An exhausted run must still surface what it did.
		result.FinalText = partialSummary(result)
	}
	return result, nil
}

// partialSummary builds a final text from the executed tool calls when the
// model could not produce one itself.
func partialSummary(result *Result) string {
	summary := fmt.Sprintf("Investigation stopped after %d turns without a final answer.", result.TurnsUsed)
	for _, call := range result.ToolCalls {
		if call.Error != "" {
			summary += fmt.Sprintf("\n- %s failed: %s", call.Name, call.Error)
			continue
		}
		summary += fmt.Sprintf("\n- %s returned: %s", call.Name, call.Result)
	}
	return summary
}

func (e *Engine) executeCall(ctx context.Context, event *model.Event, call llm.ToolCall) ToolCallRecord {
	record := ToolCallRecord{Name: call.Name, Arguments: call.Arguments}
	start := time.Now()

	if e.tools == nil {
		record.Error = fmt.Sprintf("unknown tool %q", call.Name)
		record.LatencyMs = time.Since(start).Milliseconds()
		return record
	}

	output, err := e.tools.Execute(ctx, call.Name, call.Arguments)
	record.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		record.Error = err.Error()
		slog.WarnContext(ctx, "tool call failed",
			"event_id", event.ID,
			"tool", call.Name,
			"error", err)
		return record
	}

	record.Result = output
	return record
}

// toolFailurePayload formats a tool failure so the model sees a structured
// result rather than a bare error string.
func toolFailurePayload(errMsg string) string {
	payload, _ := json.Marshal(map[string]any{
		"error":   errMsg,
		"success": false,
	})
	return string(payload)
}

func buildTask(event *model.Event, classification *model.Classification, plan *model.Plan) string {
	payload, _ := json.Marshal(event.Payload)

	task := fmt.Sprintf("Event from %s (%s), priority %d.\nPayload: %s",
		event.Source, event.EventType, event.Priority, payload)

	if classification != nil {
		task += fmt.Sprintf("\nClassified as %s, complexity %s.",
			classification.Category, classification.Complexity)
		if classification.NeedsResponse {
			task += " A response to the originator is expected."
		}
	}
	if plan != nil && plan.Reasoning != "" {
		planJSON, _ := json.Marshal(plan)
		task += "\nPrepared plan: " + string(planJSON)
	}
	return task
}
