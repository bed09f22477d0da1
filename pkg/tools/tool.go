package tools

import (
	"context"
	"encoding/json"
)

// Tool is the interface for all tools the model may call.
type Tool interface {
	Name() string
	Description() string

	// Parameters returns the JSON Schema describing the tool's arguments.
	// It is exposed to the model so it can decide when and how to call.
	Parameters() json.RawMessage

	// Call executes the tool with already-parsed arguments.
	Call(ctx context.Context, args map[string]any) (string, error)
}
