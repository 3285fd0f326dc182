package provider

import "context"

// ── Tool schema ──────────────────────────────────────────────────────────────

// ToolSchema describes a tool offered to the model (JSON Schema format).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema properties
}

// ── Request / result types ───────────────────────────────────────────────────

// Request is the unified request for one model step.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
	MaxTokens    int
}

// StopReason is the normalized reason a step ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// StepResult is the complete outcome of one model step: the assistant
// text, any tool calls it requested, and the token usage to charge.
type StepResult struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// AssistantMessage converts the step result back into a history message,
// preserving the order text-then-tool-calls that the APIs return.
func (r *StepResult) AssistantMessage() Message {
	var parts []Part
	if r.Text != "" {
		parts = append(parts, Part{Type: PartTypeText, Text: r.Text})
	}
	for _, tc := range r.ToolCalls {
		parts = append(parts, Part{
			Type:       PartTypeToolCall,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			ToolInput:  tc.Input,
		})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// ── Generator interface ──────────────────────────────────────────────────────

// Generator is the unified interface for all model backends. Implementors
// are responsible for:
//  1. Converting the unified Request into the vendor's API request format
//  2. Converting the vendor's response into a StepResult
//  3. Normalizing token usage, including prompt-cache buckets
type Generator interface {
	// Generate performs one blocking model call and returns the full step.
	Generate(ctx context.Context, req *Request) (*StepResult, error)

	// Name returns the backend identifier, e.g. "anthropic", "openai", "deepseek".
	Name() string

	// DefaultModel returns the model used when the request leaves Model empty.
	DefaultModel() string

	// ContextWindow returns the default context window size for the current model.
	ContextWindow() int
}
