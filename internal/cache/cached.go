package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTTL is how long a cached result stays servable.
const DefaultTTL = 5 * time.Minute

// Op is a named operation whose results can be cached. Implementations
// may be slow (network, subprocess); the decorator never holds a store
// lock while an Op runs.
type Op func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// KeyFunc derives the cache key for an invocation.
type KeyFunc func(name string, input json.RawMessage) string

// Entry is a stored operation result plus the time it was stored.
type Entry struct {
	result   json.RawMessage
	storedAt time.Time
}

// NewResultStore returns a store suitable for sharing between several
// wrapped operations.
func NewResultStore(capacity int) *Store[Entry] {
	return NewStore[Entry](capacity)
}

// Stats is a point-in-time snapshot of a wrapped operation's cache
// effectiveness. Size reports occupancy of the backing store, which may
// be shared with other operations.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// CachedOp wraps an Op so that repeated invocations with equivalent
// input are served from a store instead of re-running the operation.
type CachedOp struct {
	name  string
	op    Op
	store *Store[Entry]
	ttl   time.Duration
	keyFn KeyFunc
	now   func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	onHit  func(name, key string)
	onMiss func(name, key string)
}

type Option func(*CachedOp)

// WithStore shares an existing result store instead of a private one.
func WithStore(s *Store[Entry]) Option {
	return func(c *CachedOp) { c.store = s }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *CachedOp) { c.ttl = ttl }
}

// WithKeyFunc replaces the default canonical-hash key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *CachedOp) { c.keyFn = fn }
}

// WithOnHit registers a callback invoked on every cache hit. Callbacks
// run synchronously on the calling goroutine and should be cheap.
func WithOnHit(fn func(name, key string)) Option {
	return func(c *CachedOp) { c.onHit = fn }
}

// WithOnMiss registers a callback invoked on every cache miss.
func WithOnMiss(fn func(name, key string)) Option {
	return func(c *CachedOp) { c.onMiss = fn }
}

// WithClock overrides the time source used for TTL decisions.
func WithClock(now func() time.Time) Option {
	return func(c *CachedOp) { c.now = now }
}

// Wrap decorates op with result caching. A nil op is rejected
// immediately rather than failing on first call.
func Wrap(name string, op Op, opts ...Option) (*CachedOp, error) {
	if op == nil {
		return nil, fmt.Errorf("cache: operation %q has no callable implementation", name)
	}
	c := &CachedOp{
		name:  name,
		op:    op,
		ttl:   DefaultTTL,
		keyFn: Key,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewResultStore(DefaultCapacity)
	}
	return c, nil
}

// Name returns the wrapped operation's name.
func (c *CachedOp) Name() string { return c.name }

// Call invokes the wrapped operation, serving from cache when an
// unexpired result exists for equivalent input. Failed invocations are
// propagated untouched and never cached, as are results that are not
// JSON objects or that carry a top-level "error" field.
//
// Concurrent calls that miss on the same key each invoke op; whichever
// finishes last populates the entry. Operations are expected to be
// idempotent, so the duplicate work is tolerated rather than
// deduplicated.
func (c *CachedOp) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	key := c.keyFn(c.name, input)
	if e, ok := c.store.Get(key); ok && c.now().Sub(e.storedAt) <= c.ttl {
		c.hits.Add(1)
		if c.onHit != nil {
			c.onHit(c.name, key)
		}
		return e.result, nil
	}
	c.misses.Add(1)
	if c.onMiss != nil {
		c.onMiss(c.name, key)
	}
	result, err := c.op(ctx, input)
	if err != nil {
		return nil, err
	}
	if cacheable(result) {
		c.store.Set(key, Entry{result: result, storedAt: c.now()})
	}
	return result, nil
}

// Stats returns a snapshot of hit/miss counts. HitRate is 0 before the
// first call.
func (c *CachedOp) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{Hits: hits, Misses: misses, Size: c.store.Len()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// ClearCache empties the backing store.
func (c *CachedOp) ClearCache() {
	c.store.Clear()
}

// Key is the default key derivation: a hash of the operation name and
// the canonicalized input, so that JSON objects differing only in key
// order produce the same key.
func Key(name string, input json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(canonicalJSON(input))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON re-serializes raw with object keys sorted at every
// nesting level. Invalid or empty input is returned as-is; the key is
// still deterministic, just sensitive to the original spelling.
func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// cacheable reports whether a successful result may be stored: it must
// be a JSON object without a top-level "error" field. Arrays, bare
// primitives, and null are never cached.
func cacheable(result json.RawMessage) bool {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	if !gjson.ValidBytes(trimmed) {
		return false
	}
	return !gjson.GetBytes(trimmed, "error").Exists()
}
