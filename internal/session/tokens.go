// Package session holds conversation state and the token-based history
// pruner that keeps it inside a model's context budget.
package session

import "github.com/loadout-ai/loadout/internal/provider"

// messageOverheadTokens approximates the per-message framing cost
// (role markers, part boundaries) on top of content.
const messageOverheadTokens = 4

// EstimateTokens returns a rough token estimate for a text: one token
// per four characters, rounded up. Deterministic and stateless; this is
// the single currency for every pruning decision.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateMessageTokens estimates one message: each part's serialized
// text through EstimateTokens, plus the fixed per-message overhead.
func EstimateMessageTokens(msg provider.Message) int {
	total := messageOverheadTokens
	for _, p := range msg.Parts {
		switch p.Type {
		case provider.PartTypeText:
			total += EstimateTokens(p.Text)
		case provider.PartTypeToolCall:
			total += EstimateTokens(string(p.ToolInput))
		case provider.PartTypeToolResult:
			total += EstimateTokens(string(p.ToolResult))
		}
	}
	return total
}

// EstimateMessagesTokens sums EstimateMessageTokens over the sequence.
func EstimateMessagesTokens(messages []provider.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}
