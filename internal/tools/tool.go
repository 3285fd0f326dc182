// Package tools defines the tool interface and shared types, and
// provides the tool registry and executor. Tools are independent
// operations exposed to the model; the executor wraps them with
// timeouts, debug tracing, result caching, and output limiting.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Content   string // primary output
	IsError   bool   // the tool ran but reports a failure the model should see
	Truncated bool   // content was cut to fit the output limit
}

// Tool is the uniform interface for every operation the model can call.
type Tool interface {
	// Name returns the tool name (snake_case), e.g. "read_file".
	// This is the name the model calls; it must be unique.
	Name() string

	// Description returns the tool description shown to the model.
	Description() string

	// Parameters returns the JSON Schema properties of the input.
	Parameters() map[string]any

	// Execute runs the tool. ctx comes from the agent loop and carries
	// the per-call timeout. params is the model-provided input, already
	// validated as JSON. A returned error means the tool could not run;
	// a ToolResult with IsError set means it ran and failed.
	Execute(ctx context.Context, params json.RawMessage) (ToolResult, error)

	// IsReadOnly marks tools with no side effects. Read-only results
	// are safe to cache and safe to execute in parallel.
	IsReadOnly() bool
}

// resultEnvelope is the wire shape handed back to the model and to the
// result cache. Failures carry a top-level "error" field, which the
// cache refuses to store.
type resultEnvelope struct {
	Content   string `json:"content,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// envelope serializes a ToolResult into its wire shape.
func envelope(res ToolResult) json.RawMessage {
	env := resultEnvelope{}
	if res.IsError {
		env.Error = res.Content
	} else {
		env.Content = res.Content
		env.Truncated = res.Truncated
	}
	out, err := json.Marshal(env)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"error":%q}`, "marshal tool result: "+err.Error()))
	}
	return out
}

// errorEnvelope wraps a bare error message in the failure wire shape.
func errorEnvelope(msg string) json.RawMessage {
	out, err := json.Marshal(resultEnvelope{Error: msg})
	if err != nil {
		return json.RawMessage(`{"error":"tool failed"}`)
	}
	return out
}
