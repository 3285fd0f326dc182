// Package budget enforces a USD spending cap across model-generation
// steps. One Tracker is shared by every concurrent consumer in a run
// (the agent loop and any parallel sub-tasks) and only ever grows.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loadout-ai/loadout/internal/pricing"
	"github.com/loadout-ai/loadout/internal/provider"
)

// Step is one completed model-generation step.
type Step struct {
	ModelID string
	Usage   provider.Usage
}

// StepRecord is the accounted outcome of a step, delivered to an
// observer after accumulation.
type StepRecord struct {
	ModelID   string
	Usage     provider.Usage
	CostUSD   float64
	Unpriced  bool
	Timestamp time.Time
}

// Status is a derived snapshot of the tracker. Every field is computed
// from the running total, step counts, and configuration on read.
type Status struct {
	TotalCostUSD   float64 `json:"total_cost_usd"`
	MaxUSD         float64 `json:"max_usd"`
	RemainingUSD   float64 `json:"remaining_usd"`
	UsagePercent   float64 `json:"usage_percent"`
	StepsCompleted int     `json:"steps_completed"`
	Exceeded       bool    `json:"exceeded"`
	UnpricedSteps  int     `json:"unpriced_steps"`
}

// String formats a compact one-line summary for status display.
func (s Status) String() string {
	cost := fmt.Sprintf("$%.2f", s.TotalCostUSD)
	if s.TotalCostUSD < 0.01 {
		cost = fmt.Sprintf("$%.4f", s.TotalCostUSD)
	}
	out := fmt.Sprintf("%s of $%.2f (%.1f%%), %d steps", cost, s.MaxUSD, s.UsagePercent, s.StepsCompleted)
	if s.UnpricedSteps > 0 {
		out += fmt.Sprintf(" (%d unpriced)", s.UnpricedSteps)
	}
	return out
}

// RateSource resolves a per-token rate for a model id. *pricing.Resolver
// satisfies it.
type RateSource interface {
	Resolve(ctx context.Context, modelID string) (pricing.Pricing, error)
}

// Tracker accumulates spend against a fixed cap. Safe for concurrent
// use; the accumulation is the only mutual-exclusion point, so step
// cost resolution never blocks other reporters.
type Tracker struct {
	maxUSD     float64
	rates      RateSource
	onUnpriced func(modelID string) error
	observer   func(StepRecord)

	mu        sync.Mutex
	totalCost float64
	steps     int
	unpriced  int
}

type Option func(*Tracker)

// WithOnUnpricedModel registers a callback invoked when a step's model
// has no resolvable rate. A non-nil return aborts the caller's run: it
// is propagated out of OnStepFinish after the step has been counted.
func WithOnUnpricedModel(fn func(modelID string) error) Option {
	return func(t *Tracker) { t.onUnpriced = fn }
}

// WithObserver registers a callback receiving every accounted step. It
// runs outside the tracker lock, after accumulation.
func WithObserver(fn func(StepRecord)) Option {
	return func(t *Tracker) { t.observer = fn }
}

// New builds a tracker capped at maxUSD. A non-positive cap is a caller
// programming error and fails immediately.
func New(maxUSD float64, rates RateSource, opts ...Option) (*Tracker, error) {
	if maxUSD <= 0 {
		return nil, fmt.Errorf("budget: maxUSD must be positive, got %g", maxUSD)
	}
	t := &Tracker{maxUSD: maxUSD, rates: rates}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// OnStepFinish accounts one completed step. Steps with an empty model
// id, or whose model resolves to no rate, contribute $0 and are counted
// as unpriced; they still count as completed steps. The returned error
// is non-nil only when the unpriced-model callback aborts.
func (t *Tracker) OnStepFinish(ctx context.Context, step Step) error {
	var (
		cost     float64
		unpriced bool
	)
	switch {
	case step.ModelID == "", t.rates == nil:
		unpriced = true
	default:
		p, err := t.rates.Resolve(ctx, step.ModelID)
		if err != nil {
			unpriced = true
		} else {
			u := step.Usage
			cost = p.Cost(u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheWriteTokens)
		}
	}

	t.mu.Lock()
	t.totalCost += cost
	t.steps++
	if unpriced {
		t.unpriced++
	}
	t.mu.Unlock()

	if t.observer != nil {
		t.observer(StepRecord{
			ModelID:   step.ModelID,
			Usage:     step.Usage,
			CostUSD:   cost,
			Unpriced:  unpriced,
			Timestamp: time.Now(),
		})
	}

	if unpriced && step.ModelID != "" && t.onUnpriced != nil {
		return t.onUnpriced(step.ModelID)
	}
	return nil
}

// Status returns the derived snapshot. Reads do not block reporters
// beyond the accumulation lock.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	total, steps, unpriced := t.totalCost, t.steps, t.unpriced
	t.mu.Unlock()

	return Status{
		TotalCostUSD:   total,
		MaxUSD:         t.maxUSD,
		RemainingUSD:   t.maxUSD - total,
		UsagePercent:   total / t.maxUSD * 100,
		StepsCompleted: steps,
		Exceeded:       total > t.maxUSD,
		UnpricedSteps:  unpriced,
	}
}

// ShouldStop reports whether the running total has exceeded the cap.
// Meant to be polled by an orchestration loop after each step.
func (t *Tracker) ShouldStop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost > t.maxUSD
}
