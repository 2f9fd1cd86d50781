package types

import (
	"context"
	"encoding/json"
)

// ToolTypeFunction is the only tool type the realtime endpoint accepts.
const ToolTypeFunction = "function"

// Tool is the declarative metadata sent to the remote model so it knows what
// it may call. It is not executable itself; execution happens host-side via
// the registry.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  *ToolParameters `json:"parameters,omitempty"`
}

// ToolParameters is the JSON-schema-like argument description of a tool.
type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required,omitempty"`
}

// ToolProperty describes one argument.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// NewFunctionTool builds a Tool with an object-typed parameter schema.
// A nil properties map declares a no-argument tool.
func NewFunctionTool(name, description string, properties map[string]ToolProperty) Tool {
	if properties == nil {
		properties = map[string]ToolProperty{}
	}
	return Tool{
		Type:        ToolTypeFunction,
		Name:        name,
		Description: description,
		Parameters:  &ToolParameters{Type: "object", Properties: properties},
	}
}

// ToolFunc is a registered host function. Arguments arrive as the raw JSON
// the model produced; the function validates them itself. The returned value
// is serialized and sent back to the model, so it must marshal to a flat
// structured form, conventionally embedding ToolResult.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ToolResult is the minimum contract of a tool's return value. Tools return
// richer structs by embedding it.
type ToolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
