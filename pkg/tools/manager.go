package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Registry maps tool names to executables and their argument schemas. Its
// job is dispatch and argument validation; tool failures come back as
// ordinary errors for the caller to absorb, never panics.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. A tool registered earlier under the same name wins.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name()]; exists {
		return
	}
	r.tools[tool.Name()] = tool
	r.order = append(r.order, tool.Name())
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// OpenAITools returns the registered tools as OpenAI function definitions,
// in registration order.
func (r *Registry) OpenAITools() []openai.Tool {
	out := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

// Dispatch looks up a tool, validates the raw argument JSON against the
// tool's schema, and executes it. Unknown names, malformed arguments, and
// tool failures all surface as errors for the caller to record as the
// tool's result.
func (r *Registry) Dispatch(ctx context.Context, name, argumentsJSON string) (string, error) {
	tool, err := r.Get(name)
	if err != nil {
		return "", err
	}

	args := map[string]any{}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return "", fmt.Errorf("parse arguments for %s: %w", name, err)
		}
	}

	if err := checkRequired(tool.Parameters(), args); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	return tool.Call(ctx, args)
}

// checkRequired verifies that every property the schema marks as required
// is present in the parsed arguments.
func checkRequired(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	var decl struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &decl); err != nil {
		return nil // unparseable schema is the tool's problem, not the caller's
	}
	for _, key := range decl.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required property %q", key)
		}
	}
	return nil
}
