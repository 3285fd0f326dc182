// Package pricing resolves USD per-token rates for model identifiers.
// Rates come from three layered sources: caller-supplied overrides
// (exact id, highest priority), a remote catalog snapshot refreshed on a
// TTL, and fuzzy name-variant matching against that catalog.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Pricing holds USD per-token rates for one model. CacheRead and
// CacheWrite are zero when the source publishes no cache rates.
type Pricing struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read,omitempty"`
	CacheWrite float64 `json:"cache_write,omitempty"`
}

// Cost computes the USD cost of a step from its token counts. Cache
// buckets with no published rate are charged at the base input rate, so
// a missing rate never undercounts spend.
func (p Pricing) Cost(input, output, cacheRead, cacheWrite int) float64 {
	rRead, rWrite := p.CacheRead, p.CacheWrite
	if rRead == 0 {
		rRead = p.Input
	}
	if rWrite == 0 {
		rWrite = p.Input
	}
	return float64(input)*p.Input +
		float64(output)*p.Output +
		float64(cacheRead)*rRead +
		float64(cacheWrite)*rWrite
}

// ErrNotFound reports that no rate could be resolved for a model.
var ErrNotFound = errors.New("no pricing found")

// Variants generates fuzzy-match spellings for a model id, ordered and
// deduplicated: the original, case-folded, separator-normalized
// (underscores, dots, and spaces become hyphens), and provider-prefix
// stripped forms.
func Variants(modelID string) []string {
	seen := make(map[string]struct{}, 5)
	out := make([]string, 0, 5)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	add(modelID)
	lower := strings.ToLower(modelID)
	add(lower)
	norm := normalizeSeparators(lower)
	add(norm)
	for _, v := range []string{lower, norm} {
		if i := strings.IndexByte(v, '/'); i >= 0 {
			add(v[i+1:])
		}
	}
	return out
}

func normalizeSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '.', ' ':
			return '-'
		}
		return r
	}, s)
}

// SearchCatalog fuzzy-matches modelID against catalog keys. A key
// matches when any variant of the id contains, or is contained in, the
// key or its provider-prefix-stripped tail (case-insensitive, with
// separators normalized the same way Variants normalizes them). Among
// matches the longest key wins, so a full versioned entry beats a bare
// family name. Ties break lexicographically to keep the result
// independent of map iteration order.
func SearchCatalog(modelID string, catalog map[string]Pricing) (string, Pricing, bool) {
	variants := Variants(modelID)
	for i, v := range variants {
		variants[i] = strings.ToLower(v)
	}

	bestKey := ""
	var best Pricing
	found := false
	for key, p := range catalog {
		if !matchesAny(keyForms(key), variants) {
			continue
		}
		if !found || len(key) > len(bestKey) || (len(key) == len(bestKey) && key < bestKey) {
			bestKey, best, found = key, p, true
		}
	}
	return bestKey, best, found
}

// keyForms returns the comparable spellings of a catalog key: the
// lowercased key, its provider-prefix-stripped tail, and the
// separator-normalized form of each. Runtime ids are often bare and
// dated (claude-sonnet-4-20250514) while catalog keys carry a provider
// prefix (anthropic/claude-sonnet-4); the tail is what lets those meet.
func keyForms(key string) []string {
	lk := strings.ToLower(key)
	forms := []string{lk}
	if norm := normalizeSeparators(lk); norm != lk {
		forms = append(forms, norm)
	}
	if i := strings.IndexByte(lk, '/'); i >= 0 && i+1 < len(lk) {
		tail := lk[i+1:]
		forms = append(forms, tail)
		if norm := normalizeSeparators(tail); norm != tail {
			forms = append(forms, norm)
		}
	}
	return forms
}

func matchesAny(forms, variants []string) bool {
	for _, f := range forms {
		for _, v := range variants {
			if strings.Contains(v, f) || strings.Contains(f, v) {
				return true
			}
		}
	}
	return false
}

// Resolver layers overrides over a shared catalog service. Unknown
// models produce a single warning per distinct id for the resolver's
// lifetime.
type Resolver struct {
	overrides map[string]Pricing
	catalog   *CatalogService
	warnFn    func(modelID string)

	mu     sync.Mutex
	warned map[string]struct{}
}

type ResolverOption func(*Resolver)

// WithOverrides sets exact-id rates that win over every catalog entry.
func WithOverrides(overrides map[string]Pricing) ResolverOption {
	return func(r *Resolver) { r.overrides = overrides }
}

// WithWarnFunc replaces the default stderr warning for unknown models.
// A nil fn silences warnings entirely.
func WithWarnFunc(fn func(modelID string)) ResolverOption {
	return func(r *Resolver) { r.warnFn = fn }
}

// NewResolver builds a resolver backed by catalog. A nil catalog is
// allowed for overrides-only resolution (offline and test use).
func NewResolver(catalog *CatalogService, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		catalog: catalog,
		warned:  make(map[string]struct{}),
		warnFn: func(modelID string) {
			fmt.Fprintf(os.Stderr, "warning: no pricing found for model %q; %s\n", modelID, overridesHint)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the rate for modelID, or an error wrapping ErrNotFound
// when no source knows the model. Catalog fetch failures are returned
// as-is so callers can distinguish "unknown model" from "catalog
// unavailable".
func (r *Resolver) Resolve(ctx context.Context, modelID string) (Pricing, error) {
	if modelID == "" {
		return Pricing{}, fmt.Errorf("%w: empty model id", ErrNotFound)
	}
	if p, ok := r.overrides[modelID]; ok {
		return p, nil
	}
	if r.catalog != nil {
		catalog, err := r.catalog.Catalog(ctx)
		if err != nil {
			return Pricing{}, err
		}
		if _, p, ok := SearchCatalog(modelID, catalog); ok {
			return p, nil
		}
	}
	r.warnOnce(modelID)
	return Pricing{}, fmt.Errorf("%w: %s", ErrNotFound, modelID)
}

func (r *Resolver) warnOnce(modelID string) {
	r.mu.Lock()
	_, seen := r.warned[modelID]
	if !seen {
		r.warned[modelID] = struct{}{}
	}
	r.mu.Unlock()
	if !seen && r.warnFn != nil {
		r.warnFn(modelID)
	}
}
