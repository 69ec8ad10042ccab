// Package tool defines the tools the reasoning loop can call and the
// registry that exposes them to the LLM.
package tool

import (
	"context"

	"github.com/sukru-can1/the-agent/common/llm"
)

// Tool is a callable capability. Execute receives the raw JSON arguments
// produced by the model and returns a result string that is fed back into
// the conversation. Execution errors are reported to the model as tool
// failures, not surfaced as pipeline errors.
type Tool interface {
	Name() string
	Description() string
	InputSchema() any
	Execute(ctx context.Context, arguments string) (string, error)
}

// Definition converts a Tool to the wire shape the LLM clients expect.
func Definition(t Tool) llm.Tool {
	return llm.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.InputSchema(),
	}
}
