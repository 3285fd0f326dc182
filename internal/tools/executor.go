package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loadout-ai/loadout/internal/cache"
	"github.com/loadout-ai/loadout/internal/trace"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 60 * time.Second

// Result is one executed tool call, ready to feed back to the model.
// Payload is the JSON envelope: {"content": ...} on success,
// {"error": ...} on failure.
type Result struct {
	Payload json.RawMessage
	IsError bool
}

// Executor runs tool calls with timeout control, debug tracing, and
// result caching for read-only tools.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	tracer   *trace.Tracer

	store    *cache.Store[cache.Entry]
	cacheTTL time.Duration

	mu     sync.Mutex
	cached map[string]*cache.CachedOp
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithResultCache serves repeated read-only calls from the given store.
// The store may be shared with other executors (for example one run by
// a sub-agent).
func WithResultCache(store *cache.Store[cache.Entry], ttl time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.store = store
		e.cacheTTL = ttl
	}
}

// WithTracer overrides the debug tracer. The default is trace.Default.
func WithTracer(t *trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates a tool executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		timeout:  DefaultToolTimeout,
		cached:   make(map[string]*cache.CachedOp),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the underlying tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs a single tool call and returns its wire result. Unknown
// tools, tool errors, and timeouts all come back as error envelopes for
// the model; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, name string, params json.RawMessage) Result {
	tool, ok := e.registry.Get(name)
	if !ok {
		return Result{Payload: errorEnvelope("unknown tool: " + name), IsError: true}
	}

	ctx, span := e.traceStart(ctx, name, params)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var payload json.RawMessage
	var err error
	if cop := e.cachedOp(tool); cop != nil {
		payload, err = cop.Call(ctx, params)
	} else {
		payload, err = e.run(tool)(ctx, params)
	}
	if err != nil {
		span.End(err)
		if ctx.Err() == context.DeadlineExceeded {
			return Result{
				Payload: errorEnvelope(fmt.Sprintf("tool %s timed out after %s", name, e.timeout)),
				IsError: true,
			}
		}
		return Result{Payload: errorEnvelope(err.Error()), IsError: true}
	}

	isErr := gjson.GetBytes(payload, "error").Exists()
	if isErr {
		span.End(fmt.Errorf("%s", gjson.GetBytes(payload, "error").String()))
	} else {
		span.End(nil)
	}
	return Result{Payload: payload, IsError: isErr}
}

// run adapts a tool into the cacheable operation signature: execute,
// apply the output limit, envelope.
func (e *Executor) run(tool Tool) cache.Op {
	return func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		res, err := tool.Execute(ctx, params)
		if err != nil {
			return nil, err
		}
		limit := toolOutputLimit(tool.Name())
		if len(res.Content) > limit {
			res.Content = truncateHeadTail(res.Content, limit)
			res.Truncated = true
		}
		return envelope(res), nil
	}
}

// cachedOp returns the caching wrapper for a read-only tool, or nil
// when the tool has side effects or caching is disabled.
func (e *Executor) cachedOp(tool Tool) *cache.CachedOp {
	if e.store == nil || !tool.IsReadOnly() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cop, ok := e.cached[tool.Name()]; ok {
		return cop
	}
	opts := []cache.Option{cache.WithStore(e.store)}
	if e.cacheTTL > 0 {
		opts = append(opts, cache.WithTTL(e.cacheTTL))
	}
	cop, err := cache.Wrap(tool.Name(), e.run(tool), opts...)
	if err != nil {
		return nil
	}
	e.cached[tool.Name()] = cop
	return cop
}

// CacheStats aggregates hit/miss counts across all decorated tools.
func (e *Executor) CacheStats() cache.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total cache.Stats
	for _, cop := range e.cached {
		s := cop.Stats()
		total.Hits += s.Hits
		total.Misses += s.Misses
	}
	if sum := total.Hits + total.Misses; sum > 0 {
		total.HitRate = float64(total.Hits) / float64(sum)
	}
	if e.store != nil {
		total.Size = e.store.Len()
	}
	return total
}

func (e *Executor) traceStart(ctx context.Context, name string, params json.RawMessage) (context.Context, *trace.Span) {
	tr := e.tracer
	if tr == nil {
		tr = trace.Default()
	}
	return tr.Start(ctx, "tool."+name, map[string]any{"params_bytes": len(params)})
}

// toolOutputLimit returns the output byte limit for a given tool.
func toolOutputLimit(name string) int {
	switch name {
	case "read_file", "grep":
		return 32 * 1024 // 32KB ~8K tokens
	case "list_dir", "glob", "code_map":
		return 16 * 1024
	default:
		return 4 * 1024
	}
}

// truncateHeadTail keeps the head (60%) and tail (40%) of a string,
// omitting the middle. Tail content (errors, final results) is often more important.
func truncateHeadTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	head := maxLen * 3 / 5 // 60%
	tail := maxLen * 2 / 5 // 40%
	omitted := len(s) - head - tail
	return s[:head] + fmt.Sprintf("\n\n[...%d chars omitted...]\n\n", omitted) + s[len(s)-tail:]
}
