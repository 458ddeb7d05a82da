// Package tools defines the tool contract agents program against: a
// flat registry of named tools, per-agent immutable toolkits, JSON
// Schema parameter validation, and the XML invocation protocol parsed
// from LLM output.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is one callable capability exposed to agents.
type Tool interface {
	// Name returns the tool name (alphanumeric and underscores).
	Name() string

	// Description returns a natural language description of what the
	// tool does. This helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Permission returns the level the graph gates execution on.
	Permission() PermissionLevel

	// Execute runs the tool. The params have already been validated
	// against Schema(). Tool-level failures are reported as a Result
	// with IsError set; a non-nil error means the call itself could
	// not run.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is a tool's output.
type Result struct {
	// Content is the text the LLM sees as the tool result.
	Content string `json:"content"`

	// Data carries structured output for event payloads.
	Data map[string]any `json:"data,omitempty"`

	// IsError indicates this result represents an error condition.
	IsError bool `json:"is_error,omitempty"`
}

// Errorf builds an error Result for the LLM transcript.
func Errorf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Textf builds a plain text Result.
func Textf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...)}
}

// decodeParams round-trips validated params into a typed input struct.
func decodeParams(params map[string]any, dst any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// mustSchema marshals an inline schema literal, falling back to a
// permissive object schema on the impossible marshal failure.
func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
