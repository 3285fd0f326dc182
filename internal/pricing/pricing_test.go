package pricing

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
)

func TestVariants(t *testing.T) {
	got := Variants("Anthropic/Claude_Sonnet.4-5")
	want := []string{
		"Anthropic/Claude_Sonnet.4-5",
		"anthropic/claude_sonnet.4-5",
		"anthropic/claude-sonnet-4-5",
		"claude_sonnet.4-5",
		"claude-sonnet-4-5",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Variants = %q, want %q", got, want)
	}
}

func TestVariantsDeduplicates(t *testing.T) {
	got := Variants("claude-3-haiku")
	if len(got) != 1 || got[0] != "claude-3-haiku" {
		t.Errorf("Variants = %q, want just the original", got)
	}
}

func TestVariantsEmpty(t *testing.T) {
	if got := Variants(""); len(got) != 0 {
		t.Errorf("Variants(\"\") = %q, want empty", got)
	}
}

func TestSearchCatalogLongestMatchWins(t *testing.T) {
	catalog := map[string]Pricing{
		"claude":                      {Input: 1e-6, Output: 2e-6},
		"anthropic/claude-sonnet-4-5": {Input: 3e-6, Output: 15e-6},
	}
	key, p, ok := SearchCatalog("anthropic/claude-sonnet-4-5-20250929", catalog)
	if !ok {
		t.Fatal("expected a match")
	}
	if key != "anthropic/claude-sonnet-4-5" {
		t.Errorf("matched key = %q, want the longest matching key", key)
	}
	if p.Input != 3e-6 {
		t.Errorf("Input = %g, want 3e-6", p.Input)
	}
}

func TestSearchCatalogKeyTailMatchesBareDatedID(t *testing.T) {
	catalog := map[string]Pricing{"anthropic/claude-sonnet-4": {Input: 3e-6}}
	key, _, ok := SearchCatalog("claude-sonnet-4-20250514", catalog)
	if !ok {
		t.Fatal("expected the prefix-stripped key tail to match the dated id")
	}
	if key != "anthropic/claude-sonnet-4" {
		t.Errorf("matched key = %q", key)
	}
}

func TestSearchCatalogDottedKeyNormalized(t *testing.T) {
	catalog := map[string]Pricing{"anthropic/claude-3.5-sonnet": {Input: 3e-6}}
	if _, _, ok := SearchCatalog("claude-3-5-sonnet-20241022", catalog); !ok {
		t.Error("expected dotted catalog key to match hyphenated dated id")
	}
}

func TestSearchCatalogCaseInsensitive(t *testing.T) {
	catalog := map[string]Pricing{"openai/gpt-4o": {Input: 5e-6}}
	if _, _, ok := SearchCatalog("GPT-4O", catalog); !ok {
		t.Error("expected case-insensitive containment match")
	}
}

func TestSearchCatalogSeparatorNormalization(t *testing.T) {
	catalog := map[string]Pricing{"claude-3-5-sonnet": {Input: 3e-6}}
	if _, _, ok := SearchCatalog("claude_3.5_sonnet", catalog); !ok {
		t.Error("expected separator-normalized variant to match")
	}
}

func TestSearchCatalogAbsent(t *testing.T) {
	catalog := map[string]Pricing{"openai/gpt-4o": {Input: 5e-6}}
	if key, _, ok := SearchCatalog("mistral-large", catalog); ok {
		t.Errorf("unexpected match %q", key)
	}
}

func TestSearchCatalogTieBreakDeterministic(t *testing.T) {
	catalog := map[string]Pricing{
		"claude-sonnet-4-5-aa": {Input: 1e-6},
		"claude-sonnet-4-5-ab": {Input: 2e-6},
	}
	for i := 0; i < 20; i++ {
		key, _, ok := SearchCatalog("claude-sonnet-4-5-aa-and-claude-sonnet-4-5-ab", catalog)
		if !ok || key != "claude-sonnet-4-5-aa" {
			t.Fatalf("run %d: key = %q, want lexicographically first of equal-length matches", i, key)
		}
	}
}

func TestCostFallbackFormula(t *testing.T) {
	p := Pricing{Input: 3e-6, Output: 15e-6}
	got := p.Cost(1000, 200, 0, 0)
	want := 1000*3e-6 + 200*15e-6
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Cost = %g, want %g", got, want)
	}
}

func TestCostGranularBreakdown(t *testing.T) {
	p := Pricing{Input: 3e-6, Output: 15e-6, CacheRead: 0.3e-6, CacheWrite: 3.75e-6}
	got := p.Cost(1000, 200, 5000, 800)
	want := 1000*3e-6 + 200*15e-6 + 5000*0.3e-6 + 800*3.75e-6
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Cost = %g, want %g", got, want)
	}
}

func TestCostMissingCacheRatesChargeInputRate(t *testing.T) {
	p := Pricing{Input: 2e-6, Output: 10e-6}
	got := p.Cost(0, 0, 1000, 500)
	want := 1500 * 2e-6
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Cost = %g, want %g (cache tokens at input rate)", got, want)
	}
}

func TestResolverOverridesWin(t *testing.T) {
	r := NewResolver(nil,
		WithOverrides(map[string]Pricing{"my-model": {Input: 1e-6, Output: 2e-6}}),
		WithWarnFunc(nil))
	p, err := r.Resolve(context.Background(), "my-model")
	if err != nil {
		t.Fatal(err)
	}
	if p.Input != 1e-6 {
		t.Errorf("Input = %g, want override rate", p.Input)
	}
}

func TestResolverOverridesAreExactMatch(t *testing.T) {
	r := NewResolver(nil,
		WithOverrides(map[string]Pricing{"my-model": {Input: 1e-6}}),
		WithWarnFunc(nil))
	if _, err := r.Resolve(context.Background(), "MY-MODEL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound (overrides do not fuzzy match)", err)
	}
}

func TestResolverEmptyModelID(t *testing.T) {
	r := NewResolver(nil, WithWarnFunc(nil))
	if _, err := r.Resolve(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResolverWarnsOncePerModel(t *testing.T) {
	var warned []string
	r := NewResolver(nil, WithWarnFunc(func(modelID string) {
		warned = append(warned, modelID)
	}))

	for i := 0; i < 3; i++ {
		r.Resolve(context.Background(), "unknown-a")
	}
	r.Resolve(context.Background(), "unknown-b")
	r.Resolve(context.Background(), "unknown-a")

	want := []string{"unknown-a", "unknown-b"}
	if !slices.Equal(warned, want) {
		t.Errorf("warned = %q, want %q", warned, want)
	}
}
