// Package trace is the environment-driven debug event log. When enabled
// via LOADOUT_DEBUG it records start/end/error events for instrumented
// operations, either retained in memory, written as human-readable lines
// to stderr, or written as JSON lines.
//
// Parent/child correlation for nested concurrent operations rides on the
// context: Start derives a context carrying the new span id, and spans
// started from that context record it as their parent. Interleaved
// parallel call chains therefore never cross-contaminate attribution.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EnvVar selects the debug mode for the process.
const EnvVar = "LOADOUT_DEBUG"

// Mode controls where debug events go.
type Mode string

const (
	// ModeOff records nothing. This is the default.
	ModeOff Mode = "off"
	// ModeMemory retains events in a bounded in-memory buffer.
	ModeMemory Mode = "memory"
	// ModeStderr writes human-readable lines to the error stream.
	ModeStderr Mode = "stderr"
	// ModeJSON writes one JSON object per event.
	ModeJSON Mode = "json"
)

// ParseMode maps an environment value to a Mode. "1" is an alias for
// stderr; unrecognized values and the empty string disable tracing.
func ParseMode(value string) Mode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "memory":
		return ModeMemory
	case "stderr", "1":
		return ModeStderr
	case "json":
		return ModeJSON
	default:
		return ModeOff
	}
}

// EventType classifies a debug event.
type EventType string

const (
	EventStart EventType = "start"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// Event is a single recorded debug event.
type Event struct {
	Type     EventType      `json:"type"`
	Op       string         `json:"op"`
	SpanID   string         `json:"span_id"`
	ParentID string         `json:"parent_id,omitempty"`
	Time     time.Time      `json:"ts"`
	Elapsed  time.Duration  `json:"elapsed_ns,omitempty"`
	Err      string         `json:"error,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// ── context propagation ──────────────────────────────────────────

type contextKey int

const spanContextKey contextKey = iota

// ContextWithSpan returns a new context carrying the given span id.
func ContextWithSpan(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanContextKey, spanID)
}

// SpanIDFromContext extracts the current span id, or "" if not present.
func SpanIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(spanContextKey).(string)
	return id
}

// ── tracer ───────────────────────────────────────────────────────

// memoryCapacity bounds the in-memory event buffer. Oldest events are
// dropped when full.
const memoryCapacity = 1024

// Tracer records debug events for one configured mode. The zero value
// and the nil tracer are both disabled and safe to call.
type Tracer struct {
	mode Mode
	sink sink
}

// New creates a tracer for the given mode. The writer receives stderr
// and json output; nil means os.Stderr. Memory mode ignores it.
func New(mode Mode, out io.Writer) *Tracer {
	t := &Tracer{mode: mode}
	if out == nil {
		out = os.Stderr
	}
	switch mode {
	case ModeMemory:
		t.sink = &memorySink{capacity: memoryCapacity}
	case ModeStderr:
		t.sink = &lineSink{out: out}
	case ModeJSON:
		t.sink = &jsonSink{enc: json.NewEncoder(out)}
	}
	return t
}

// FromEnv builds a tracer from the LOADOUT_DEBUG environment variable.
func FromEnv() *Tracer {
	return New(ParseMode(os.Getenv(EnvVar)), os.Stderr)
}

var defaultTracer atomic.Pointer[Tracer]

// Default returns the process-wide tracer, initializing it from the
// environment on first use.
func Default() *Tracer {
	if t := defaultTracer.Load(); t != nil {
		return t
	}
	t := FromEnv()
	if defaultTracer.CompareAndSwap(nil, t) {
		return t
	}
	return defaultTracer.Load()
}

// SetDefault replaces the process-wide tracer. Tests use this to
// install a memory-mode tracer and inspect recorded events.
func SetDefault(t *Tracer) {
	defaultTracer.Store(t)
}

// Enabled reports whether the tracer records anything.
func (t *Tracer) Enabled() bool {
	return t != nil && t.mode != ModeOff
}

// Mode returns the configured mode.
func (t *Tracer) Mode() Mode {
	if t == nil {
		return ModeOff
	}
	return t.mode
}

// Events returns a copy of the retained events. Only memory mode
// retains events; other modes return nil.
func (t *Tracer) Events() []Event {
	if t == nil {
		return nil
	}
	ms, ok := t.sink.(*memorySink)
	if !ok {
		return nil
	}
	return ms.snapshot()
}

func (t *Tracer) emit(evt Event) {
	if t == nil || t.sink == nil {
		return
	}
	t.sink.emit(evt)
}

// ── spans ────────────────────────────────────────────────────────

// Span tracks one instrumented operation from Start to End. A nil span
// is inert, so callers never need to check whether tracing is on.
type Span struct {
	tracer *Tracer
	op     string
	id     string
	parent string
	began  time.Time
}

// Start records a start event and returns a derived context carrying
// the new span id. Operations started from that context become children
// of this span. When tracing is off the context is returned unchanged
// and the span is nil.
func (t *Tracer) Start(ctx context.Context, op string, attrs map[string]any) (context.Context, *Span) {
	if !t.Enabled() {
		return ctx, nil
	}
	s := &Span{
		tracer: t,
		op:     op,
		id:     newSpanID(),
		parent: SpanIDFromContext(ctx),
		began:  time.Now(),
	}
	t.emit(Event{
		Type:     EventStart,
		Op:       op,
		SpanID:   s.id,
		ParentID: s.parent,
		Time:     s.began,
		Attrs:    attrs,
	})
	return ContextWithSpan(ctx, s.id), s
}

// End records an end event, or an error event when err is non-nil.
// Safe on a nil span.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	now := time.Now()
	evt := Event{
		Type:     EventEnd,
		Op:       s.op,
		SpanID:   s.id,
		ParentID: s.parent,
		Time:     now,
		Elapsed:  now.Sub(s.began),
	}
	if err != nil {
		evt.Type = EventError
		evt.Err = err.Error()
	}
	s.tracer.emit(evt)
}

// Span ids only need to be unique within one debug run.
func newSpanID() string {
	return uuid.New().String()[:8]
}

// ── sinks ────────────────────────────────────────────────────────

type sink interface {
	emit(Event)
}

// memorySink keeps the most recent events up to capacity.
type memorySink struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

func (ms *memorySink) emit(evt Event) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.events) >= ms.capacity {
		n := copy(ms.events, ms.events[1:])
		ms.events = ms.events[:n]
	}
	ms.events = append(ms.events, evt)
}

func (ms *memorySink) snapshot() []Event {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Event, len(ms.events))
	copy(out, ms.events)
	return out
}

// lineSink writes one human-readable line per event.
type lineSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (ls *lineSink) emit(evt Event) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	fmt.Fprintln(ls.out, formatLine(evt))
}

func formatLine(evt Event) string {
	var sb strings.Builder
	sb.WriteString(evt.Time.Format("15:04:05.000"))
	fmt.Fprintf(&sb, "  %-5s  %s  span=%s", evt.Type, evt.Op, evt.SpanID)
	if evt.ParentID != "" {
		sb.WriteString(" parent=" + evt.ParentID)
	}
	if evt.Type != EventStart {
		sb.WriteString(" elapsed=" + evt.Elapsed.Round(time.Microsecond).String())
	}
	if evt.Err != "" {
		sb.WriteString(" error=" + evt.Err)
	}
	for k, v := range evt.Attrs {
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	return sb.String()
}

// jsonSink writes one JSON object per event.
type jsonSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (js *jsonSink) emit(evt Event) {
	js.mu.Lock()
	defer js.mu.Unlock()
	_ = js.enc.Encode(evt)
}
