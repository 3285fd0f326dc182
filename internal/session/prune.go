package session

import (
	"encoding/json"

	"github.com/loadout-ai/loadout/internal/provider"
)

const (
	// DefaultProtectUserMessages is how many trailing user messages
	// anchor the protection boundary when the config leaves it unset.
	DefaultProtectUserMessages = 2

	// prunableMinBytes is the smallest payload worth replacing: below
	// this the marker object would not pay for itself.
	prunableMinBytes = 96
)

// PruneConfig controls PruneByTokens.
type PruneConfig struct {
	// TargetTokens is the estimated size the history should shrink to.
	TargetTokens int
	// MinSavingsTokens suppresses pruning entirely when the achievable
	// savings are smaller than this.
	MinSavingsTokens int
	// ProtectLastNUserMessages anchors the protection boundary at the
	// N-th-from-last user message; everything at or after it is
	// returned untouched. Values below 1 use
	// DefaultProtectUserMessages.
	ProtectLastNUserMessages int
}

// prunedMarker replaces an oversized tool payload. The surrounding part
// keeps its identity fields; the marker records what was dropped.
type prunedMarker struct {
	Pruned        bool   `json:"_pruned"`
	Tool          string `json:"tool,omitempty"`
	OriginalChars int    `json:"original_chars"`
}

func markerFor(tool string, originalChars int) json.RawMessage {
	out, err := json.Marshal(prunedMarker{Pruned: true, Tool: tool, OriginalChars: originalChars})
	if err != nil {
		return json.RawMessage(`{"_pruned":true}`)
	}
	return out
}

// PruneByTokens returns a history whose estimated size fits
// cfg.TargetTokens, by replacing oversized tool-call arguments and
// tool-result payloads in older messages with compact markers. The
// result always has the same length and order as the input; messages at
// or after the protection boundary are returned exactly as given, and
// when no pruning is needed (or the savings fall under the threshold)
// the input slice itself is returned. Plain text is never touched, and
// messages with unexpected shapes are left as-is.
func PruneByTokens(messages []provider.Message, cfg PruneConfig) []provider.Message {
	if len(messages) == 0 {
		return messages
	}
	total := EstimateMessagesTokens(messages)
	if total <= cfg.TargetTokens {
		return messages
	}

	protect := cfg.ProtectLastNUserMessages
	if protect < 1 {
		protect = DefaultProtectUserMessages
	}
	boundary := protectionBoundary(messages, protect)

	candidates := collectPrunable(messages, boundary)
	if len(candidates) == 0 {
		return messages
	}
	potential := 0
	for _, c := range candidates {
		potential += c.savings
	}
	if potential < cfg.MinSavingsTokens {
		return messages
	}

	result := make([]provider.Message, len(messages))
	copy(result, messages)
	copied := make(map[int]bool, len(candidates))

	current := total
	for _, c := range candidates {
		if current <= cfg.TargetTokens {
			break
		}
		if !copied[c.msg] {
			parts := make([]provider.Part, len(result[c.msg].Parts))
			copy(parts, result[c.msg].Parts)
			result[c.msg].Parts = parts
			copied[c.msg] = true
		}
		part := &result[c.msg].Parts[c.part]
		switch part.Type {
		case provider.PartTypeToolCall:
			part.ToolInput = c.marker
		case provider.PartTypeToolResult:
			part.ToolResult = c.marker
		}
		current -= c.savings
	}
	return result
}

// protectionBoundary returns the index of the n-th-from-last user
// message, or 0 when fewer than n exist (everything protected).
func protectionBoundary(messages []provider.Message, n int) int {
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.RoleUser {
			count++
			if count == n {
				return i
			}
		}
	}
	return 0
}

type pruneCandidate struct {
	msg, part int
	marker    json.RawMessage
	savings   int
}

// collectPrunable lists replaceable parts strictly before the boundary,
// oldest first, with the token savings each replacement would yield.
func collectPrunable(messages []provider.Message, boundary int) []pruneCandidate {
	var out []pruneCandidate
	for i := 0; i < boundary; i++ {
		for j, p := range messages[i].Parts {
			var payload []byte
			switch p.Type {
			case provider.PartTypeToolCall:
				payload = p.ToolInput
			case provider.PartTypeToolResult:
				payload = p.ToolResult
			default:
				continue
			}
			if len(payload) < prunableMinBytes || alreadyPruned(payload) {
				continue
			}
			marker := markerFor(p.ToolName, len(payload))
			savings := EstimateTokens(string(payload)) - EstimateTokens(string(marker))
			if savings <= 0 {
				continue
			}
			out = append(out, pruneCandidate{msg: i, part: j, marker: marker, savings: savings})
		}
	}
	return out
}

func alreadyPruned(payload []byte) bool {
	var m struct {
		Pruned bool `json:"_pruned"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	return m.Pruned
}
