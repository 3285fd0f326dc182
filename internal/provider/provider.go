// Package provider defines the shared message and usage types exchanged
// between the agent loop, the pruner, and the budget tracker. Provider
// adapters normalize vendor-specific notions of a completed step (text,
// tool calls, token usage) into these types.
package provider

import "encoding/json"

// ── Message types ────────────────────────────────────────────────────────────

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeToolCall   PartType = "tool_call"
	PartTypeToolResult PartType = "tool_result"
)

// Part is a single content block within a message. Tool results ride in
// user-role messages, matching the Anthropic message shape.
type Part struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"` // tool_call / tool_result
	ToolName   string          `json:"tool_name,omitempty"`    // tool_call / tool_result
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`   // tool_call
	ToolResult json.RawMessage `json:"tool_result,omitempty"`  // tool_result
	IsError    bool            `json:"is_error,omitempty"`     // tool_result
}

// Message is a single message in the conversation history.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextMessage builds a message holding a single text part.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartTypeText, Text: text}}}
}

// ToolResultMessage builds a user message carrying one tool result payload.
func ToolResultMessage(callID, toolName string, payload json.RawMessage, isErr bool) Message {
	return Message{Role: RoleUser, Parts: []Part{{
		Type:       PartTypeToolResult,
		ToolCallID: callID,
		ToolName:   toolName,
		ToolResult: payload,
		IsError:    isErr,
	}}}
}

// Text concatenates the text parts of a message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// ── Tool calls ───────────────────────────────────────────────────────────────

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}
