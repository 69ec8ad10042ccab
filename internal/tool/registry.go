package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sukru-can1/the-agent/common/llm"
)

// Registry holds the tools available to the reasoning loop. Tools can be
// registered and removed at runtime; Definitions reflects the current set,
// so a single reasoning turn always sees a consistent snapshot.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Registering a name twice is an error: silently
// replacing a tool mid-flight would make audit records ambiguous.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool registry: empty tool name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool registry: %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Deregister removes a tool by name. Removing an unknown name is a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Definitions returns the registered tools in the LLM wire shape, sorted by
// name so prompts are stable across runs.
func (r *Registry) Definitions() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition(t))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute dispatches a tool call by name. Unknown tools return an error the
// caller reports back to the model as a failed call.
func (r *Registry) Execute(ctx context.Context, name, arguments string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool registry: unknown tool %q", name)
	}
	return t.Execute(ctx, arguments)
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
