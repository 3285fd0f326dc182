package provider

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Usage records token consumption for a single model call. InputTokens
// counts only non-cached prompt tokens; the cache buckets are reported
// separately so each can be charged at its own rate.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.CacheReadTokens += u2.CacheReadTokens
	u.CacheWriteTokens += u2.CacheWriteTokens
}

// TotalTokens returns the sum over all buckets.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// HasCacheActivity reports whether any cache bucket is non-zero.
func (u Usage) HasCacheActivity() bool {
	return u.CacheReadTokens > 0 || u.CacheWriteTokens > 0
}

// UsageFromAnthropic maps the Anthropic SDK usage block. The API already
// reports input_tokens exclusive of the cache buckets, so the fields map
// directly.
func UsageFromAnthropic(u anthropic.Usage) Usage {
	return Usage{
		InputTokens:      int(u.InputTokens),
		OutputTokens:     int(u.OutputTokens),
		CacheReadTokens:  int(u.CacheReadInputTokens),
		CacheWriteTokens: int(u.CacheCreationInputTokens),
	}
}

// UsageFromOpenAI maps the OpenAI SDK usage block. PromptTokens includes
// cached tokens, so the cached share is subtracted out of InputTokens.
func UsageFromOpenAI(u openai.CompletionUsage) Usage {
	cached := int(u.PromptTokensDetails.CachedTokens)
	input := int(u.PromptTokens) - cached
	if input < 0 {
		input = 0
	}
	return Usage{
		InputTokens:     input,
		OutputTokens:    int(u.CompletionTokens),
		CacheReadTokens: cached,
	}
}
