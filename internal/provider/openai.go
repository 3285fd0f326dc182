package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIGenerator implements Generator for all OpenAI-compatible APIs,
// including OpenAI, DeepSeek, MiniMax, Kimi, Qwen, etc.
type OpenAIGenerator struct {
	client  openai.Client
	model   string
	name    string
	baseURL string
}

func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	name := "openai"
	if baseURL != "" {
		switch {
		case strings.Contains(baseURL, "deepseek"):
			name = "deepseek"
		case strings.Contains(baseURL, "minimax"):
			name = "minimax"
		case strings.Contains(baseURL, "generativelanguage.googleapis.com"):
			name = "gemini"
		case strings.Contains(baseURL, "moonshot"):
			name = "kimi"
		case strings.Contains(baseURL, "dashscope"):
			name = "qwen"
		case strings.Contains(baseURL, "bigmodel.cn"):
			name = "glm"
		case strings.Contains(baseURL, "volces.com"):
			name = "doubao"
		case strings.Contains(baseURL, "groq"):
			name = "groq"
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIGenerator{
		client:  openai.NewClient(opts...),
		model:   model,
		name:    name,
		baseURL: baseURL,
	}
}

func (g *OpenAIGenerator) Name() string         { return g.name }
func (g *OpenAIGenerator) DefaultModel() string { return g.model }

func (g *OpenAIGenerator) ContextWindow() int {
	switch {
	case strings.Contains(g.model, "gpt-4o"):
		return 128000
	case strings.Contains(g.model, "gpt-4"):
		return 128000
	case strings.Contains(g.model, "o1"), strings.Contains(g.model, "o3"):
		return 200000
	case strings.Contains(g.model, "deepseek"):
		return 64000
	default:
		return 128000
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req *Request) (*StepResult, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: g.buildMessages(req),
	}
	if tools := g.buildTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty choices")
	}

	choice := completion.Choices[0]
	res := &StepResult{
		Text:       choice.Message.Content,
		StopReason: stopReasonFromOpenAI(string(choice.FinishReason)),
		Usage:      UsageFromOpenAI(completion.Usage),
	}

	for _, tc := range choice.Message.ToolCalls {
		input := tc.Function.Arguments
		if input == "" {
			input = "{}"
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(input),
		})
	}

	return res, nil
}

func stopReasonFromOpenAI(r string) StopReason {
	switch r {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// buildMessages converts unified Message types to OpenAI API params.
// Tool results ride in user-role messages internally; OpenAI wants them
// as separate "tool" role messages, so they are split out here.
func (g *OpenAIGenerator) buildMessages(req *Request) []openai.ChatCompletionMessageParamUnion {
	var params []openai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		params = append(params, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.Text(); text != "" {
				params = append(params, openai.SystemMessage(text))
			}

		case RoleUser:
			for _, p := range msg.Parts {
				switch p.Type {
				case PartTypeText:
					params = append(params, openai.UserMessage(p.Text))
				case PartTypeToolResult:
					params = append(params, openai.ToolMessage(string(p.ToolResult), p.ToolCallID))
				}
			}

		case RoleAssistant:
			var text string
			var toolCalls []openai.ChatCompletionMessageToolCallParam
			for _, p := range msg.Parts {
				switch p.Type {
				case PartTypeText:
					text = p.Text
				case PartTypeToolCall:
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
						ID:   p.ToolCallID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      p.ToolName,
							Arguments: string(p.ToolInput),
						},
					})
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)},
				ToolCalls: toolCalls,
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return params
}

// buildTools converts unified ToolSchema to OpenAI tool params.
func (g *OpenAIGenerator) buildTools(tools []ToolSchema) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, t := range tools {
		result = append(result, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": t.Parameters,
				},
			},
		})
	}
	return result
}
