package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator implements Generator using the Anthropic native API.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
}

func NewAnthropicGenerator(apiKey, baseURL, model string) *AnthropicGenerator {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	return &AnthropicGenerator{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (g *AnthropicGenerator) Name() string         { return "anthropic" }
func (g *AnthropicGenerator) DefaultModel() string { return g.model }

func (g *AnthropicGenerator) ContextWindow() int {
	// All current Claude models share a 200k window.
	return 200000
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req *Request) (*StepResult, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  g.buildMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if tools := g.buildTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	res := &StepResult{
		StopReason: stopReasonFromAnthropic(msg.StopReason),
		Usage:      UsageFromAnthropic(msg.Usage),
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			input := variant.JSON.Input.Raw()
			if input == "" {
				input = "{}"
			}
			res.ToolCalls = append(res.ToolCalls, ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(input),
			})
		}
	}
	res.Text = text.String()

	return res, nil
}

func stopReasonFromAnthropic(r anthropic.StopReason) StopReason {
	switch r {
	case anthropic.StopReasonToolUse:
		return StopToolUse
	case anthropic.StopReasonMaxTokens:
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// buildMessages converts unified Message types to Anthropic API params.
func (g *AnthropicGenerator) buildMessages(msgs []Message) []anthropic.MessageParam {
	var params []anthropic.MessageParam

	for _, msg := range msgs {
		var blocks []anthropic.ContentBlockParamUnion

		for _, p := range msg.Parts {
			switch p.Type {
			case PartTypeText:
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			case PartTypeToolCall:
				// ToolInput is json.RawMessage; parse it to any for the SDK.
				var input any
				if len(p.ToolInput) > 0 {
					_ = json.Unmarshal(p.ToolInput, &input)
				}
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolCallID, input, p.ToolName))
			case PartTypeToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(p.ToolCallID, string(p.ToolResult), p.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case RoleUser:
			params = append(params, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return params
}

// buildTools converts unified ToolSchema to Anthropic tool params.
func (g *AnthropicGenerator) buildTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Parameters,
				},
			},
		})
	}
	return result
}
