package provider

import (
	"encoding/json"
	"testing"
)

// --- ContextWindow tests ---

func TestOpenAIGenerator_ContextWindow(t *testing.T) {
	tests := []struct {
		model    string
		expected int
	}{
		{"gpt-4o-mini", 128000},
		{"gpt-4o", 128000},
		{"gpt-4-turbo", 128000},
		{"o1-preview", 200000},
		{"o3-mini", 200000},
		{"deepseek-chat", 64000},
		{"some-unknown-model", 128000},
	}
	for _, tt := range tests {
		g := &OpenAIGenerator{model: tt.model}
		if got := g.ContextWindow(); got != tt.expected {
			t.Errorf("OpenAI ContextWindow(%q) = %d, want %d", tt.model, got, tt.expected)
		}
	}
}

func TestAnthropicGenerator_ContextWindow(t *testing.T) {
	tests := []struct {
		model    string
		expected int
	}{
		{"claude-sonnet-4-20250514", 200000},
		{"claude-opus-4-20250514", 200000},
		{"claude-unknown-future", 200000},
	}
	for _, tt := range tests {
		g := &AnthropicGenerator{model: tt.model}
		if got := g.ContextWindow(); got != tt.expected {
			t.Errorf("Anthropic ContextWindow(%q) = %d, want %d", tt.model, got, tt.expected)
		}
	}
}

// --- Metadata tests ---

func TestOpenAIGenerator_Metadata(t *testing.T) {
	g := &OpenAIGenerator{model: "gpt-4o", name: "openai"}
	if g.Name() != "openai" {
		t.Errorf("expected name 'openai', got %q", g.Name())
	}
	if g.DefaultModel() != "gpt-4o" {
		t.Errorf("expected model 'gpt-4o', got %q", g.DefaultModel())
	}
}

func TestNewOpenAIGenerator_NameFromBaseURL(t *testing.T) {
	tests := []struct {
		baseURL  string
		expected string
	}{
		{"", "openai"},
		{"https://api.deepseek.com/v1", "deepseek"},
		{"https://api.minimax.chat/v1", "minimax"},
		{"https://api.moonshot.cn/v1", "kimi"},
		{"https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen"},
		{"https://api.groq.com/openai/v1", "groq"},
	}
	for _, tt := range tests {
		g := NewOpenAIGenerator("test-key", tt.baseURL, "some-model")
		if g.Name() != tt.expected {
			t.Errorf("NewOpenAIGenerator(baseURL=%q).Name() = %q, want %q", tt.baseURL, g.Name(), tt.expected)
		}
	}
}

func TestNewOpenAIGenerator_DefaultModel(t *testing.T) {
	g := NewOpenAIGenerator("test-key", "", "")
	if g.DefaultModel() != "gpt-4o-mini" {
		t.Errorf("expected fallback model 'gpt-4o-mini', got %q", g.DefaultModel())
	}
}

func TestNewAnthropicGenerator_DefaultModel(t *testing.T) {
	g := NewAnthropicGenerator("test-key", "", "")
	if g.DefaultModel() != "claude-sonnet-4-20250514" {
		t.Errorf("expected default claude model, got %q", g.DefaultModel())
	}
}

// --- Stop reason mapping ---

func TestStopReasonFromOpenAI(t *testing.T) {
	tests := []struct {
		raw      string
		expected StopReason
	}{
		{"stop", StopEndTurn},
		{"tool_calls", StopToolUse},
		{"function_call", StopToolUse},
		{"length", StopMaxTokens},
		{"", StopEndTurn},
	}
	for _, tt := range tests {
		if got := stopReasonFromOpenAI(tt.raw); got != tt.expected {
			t.Errorf("stopReasonFromOpenAI(%q) = %q, want %q", tt.raw, got, tt.expected)
		}
	}
}

// --- Message building ---

func TestOpenAIGenerator_BuildMessages(t *testing.T) {
	g := &OpenAIGenerator{model: "gpt-4o"}
	req := &Request{
		SystemPrompt: "be helpful",
		Messages: []Message{
			TextMessage(RoleUser, "list the files"),
			{Role: RoleAssistant, Parts: []Part{
				{Type: PartTypeText, Text: "listing now"},
				{Type: PartTypeToolCall, ToolCallID: "call_1", ToolName: "list_dir", ToolInput: json.RawMessage(`{"path":"."}`)},
			}},
			ToolResultMessage("call_1", "list_dir", json.RawMessage(`{"content":"a.go"}`), false),
		},
	}

	params := g.buildMessages(req)
	// system + user + assistant + tool result
	if len(params) != 4 {
		t.Fatalf("expected 4 params, got %d", len(params))
	}
	if params[0].OfSystem == nil {
		t.Error("expected first param to be a system message")
	}
	if params[1].OfUser == nil {
		t.Error("expected second param to be a user message")
	}
	assistant := params[2].OfAssistant
	if assistant == nil {
		t.Fatal("expected third param to be an assistant message")
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call on assistant message, got %d", len(assistant.ToolCalls))
	}
	if assistant.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool call ID = %q, want call_1", assistant.ToolCalls[0].ID)
	}
	if assistant.ToolCalls[0].Function.Name != "list_dir" {
		t.Errorf("tool call name = %q, want list_dir", assistant.ToolCalls[0].Function.Name)
	}
	if params[3].OfTool == nil {
		t.Error("expected fourth param to be a tool message")
	}
}

func TestAnthropicGenerator_BuildMessages(t *testing.T) {
	g := &AnthropicGenerator{model: "claude-sonnet-4-20250514"}
	msgs := []Message{
		TextMessage(RoleUser, "hello"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartTypeToolCall, ToolCallID: "toolu_1", ToolName: "read_file", ToolInput: json.RawMessage(`{"file_path":"a.go"}`)},
		}},
		ToolResultMessage("toolu_1", "read_file", json.RawMessage(`{"content":"package a"}`), false),
		{Role: RoleAssistant, Parts: nil}, // empty messages must be dropped
	}

	params := g.buildMessages(msgs)
	if len(params) != 3 {
		t.Fatalf("expected 3 params, got %d", len(params))
	}
	if string(params[0].Role) != "user" {
		t.Errorf("params[0].Role = %q, want user", params[0].Role)
	}
	if string(params[1].Role) != "assistant" {
		t.Errorf("params[1].Role = %q, want assistant", params[1].Role)
	}
	if string(params[2].Role) != "user" {
		t.Errorf("tool results must ride in a user message, got role %q", params[2].Role)
	}
}

// --- Tool schema building ---

func TestBuildTools(t *testing.T) {
	schemas := []ToolSchema{{
		Name:        "grep",
		Description: "search file contents",
		Parameters: map[string]any{
			"pattern": map[string]any{"type": "string"},
		},
	}}

	oa := (&OpenAIGenerator{}).buildTools(schemas)
	if len(oa) != 1 {
		t.Fatalf("openai: expected 1 tool, got %d", len(oa))
	}
	if oa[0].Function.Name != "grep" {
		t.Errorf("openai tool name = %q, want grep", oa[0].Function.Name)
	}

	an := (&AnthropicGenerator{}).buildTools(schemas)
	if len(an) != 1 {
		t.Fatalf("anthropic: expected 1 tool, got %d", len(an))
	}
	if an[0].OfTool == nil || an[0].OfTool.Name != "grep" {
		t.Error("anthropic tool name not mapped")
	}
}

// --- StepResult helpers ---

func TestStepResult_AssistantMessage(t *testing.T) {
	res := &StepResult{
		Text: "running the search",
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "grep", Input: json.RawMessage(`{"pattern":"x"}`)},
			{ID: "c2", Name: "glob", Input: json.RawMessage(`{"pattern":"*.go"}`)},
		},
	}
	msg := res.AssistantMessage()
	if msg.Role != RoleAssistant {
		t.Errorf("role = %q, want assistant", msg.Role)
	}
	if len(msg.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(msg.Parts))
	}
	if msg.Parts[0].Type != PartTypeText || msg.Parts[0].Text != "running the search" {
		t.Error("text part not preserved first")
	}
	if msg.Parts[1].ToolCallID != "c1" || msg.Parts[2].ToolCallID != "c2" {
		t.Error("tool call order not preserved")
	}
}

func TestStepResult_AssistantMessage_NoText(t *testing.T) {
	res := &StepResult{
		ToolCalls: []ToolCall{{ID: "c1", Name: "grep", Input: json.RawMessage(`{}`)}},
	}
	msg := res.AssistantMessage()
	if len(msg.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(msg.Parts))
	}
	if msg.Parts[0].Type != PartTypeToolCall {
		t.Errorf("part type = %q, want tool_call", msg.Parts[0].Type)
	}
}
