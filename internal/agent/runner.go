// Package agent drives the model/tool step loop: generate one step,
// account its cost against the budget, execute requested tool calls
// concurrently, feed the results back, and repeat until the model ends
// its turn or a guard trips.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/loadout-ai/loadout/internal/budget"
	"github.com/loadout-ai/loadout/internal/provider"
	"github.com/loadout-ai/loadout/internal/session"
	"github.com/loadout-ai/loadout/internal/tools"
	"github.com/loadout-ai/loadout/internal/trace"
)

// StopCause records why a run ended.
type StopCause string

const (
	// StopCompleted: the model ended its turn without tool calls.
	StopCompleted StopCause = "completed"
	// StopBudget: the spend cap was exceeded; pending tool calls were
	// not executed.
	StopBudget StopCause = "budget_exceeded"
	// StopMaxIterations: the iteration guard tripped.
	StopMaxIterations StopCause = "max_iterations"
	// StopDoomLoop: the model repeated the same tool calls, or the same
	// failing batch, past the stop threshold.
	StopDoomLoop StopCause = "doom_loop"
	// StopInterrupted: the context was cancelled mid-run. Partial
	// results are already in the session history.
	StopInterrupted StopCause = "interrupted"
)

// RunResult summarizes one completed run.
type RunResult struct {
	// FinalText is the last assistant text produced.
	FinalText string
	// Steps is the number of model calls made.
	Steps int
	// Usage is the token total across all steps.
	Usage provider.Usage
	// StopCause records why the run ended.
	StopCause StopCause
}

// Runner owns one agent loop: a generator to call, a registry of tools
// to offer, and an executor to run them. The zero value is not usable;
// construct with NewRunner.
type Runner struct {
	gen      provider.Generator
	registry *tools.Registry
	executor *tools.Executor

	budget        *budget.Tracker
	tracer        *trace.Tracer
	notice        func(string)
	systemPrompt  string
	model         string
	maxTokens     int
	maxIterations int
	prune         session.PruneConfig
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBudget halts the loop once the tracker reports the cap exceeded,
// and aborts when its unpriced-model callback returns an error.
func WithBudget(t *budget.Tracker) RunnerOption {
	return func(r *Runner) { r.budget = t }
}

// WithTracer overrides the debug tracer. The default is trace.Default.
func WithTracer(t *trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithNotice registers a callback for operational messages (retries,
// loop warnings, stop notices). The default discards them.
func WithNotice(fn func(string)) RunnerOption {
	return func(r *Runner) { r.notice = fn }
}

// WithSystemPrompt sets the system prompt sent on every step.
func WithSystemPrompt(s string) RunnerOption {
	return func(r *Runner) { r.systemPrompt = s }
}

// WithModel overrides the generator's default model.
func WithModel(model string) RunnerOption {
	return func(r *Runner) { r.model = model }
}

// WithMaxTokens caps the per-step completion size.
func WithMaxTokens(n int) RunnerOption {
	return func(r *Runner) { r.maxTokens = n }
}

// WithMaxIterations bounds the number of loop iterations. 0 means
// unlimited.
func WithMaxIterations(n int) RunnerOption {
	return func(r *Runner) { r.maxIterations = n }
}

// WithPrune compacts the session history before each step when its
// estimated size exceeds cfg.TargetTokens.
func WithPrune(cfg session.PruneConfig) RunnerOption {
	return func(r *Runner) { r.prune = cfg }
}

// NewRunner builds a runner over a generator and a tool executor.
func NewRunner(gen provider.Generator, exec *tools.Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		gen:      gen,
		registry: exec.Registry(),
		executor: exec,
		notice:   func(string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run appends prompt to the session and loops until the model ends its
// turn or a guard stops it. Every iteration: prune the history, call
// the generator (with retry on transient errors), account the step,
// then execute any requested tool calls concurrently and feed the
// results back. The session always holds the full exchange afterwards,
// including partial results from an interrupted run.
func (r *Runner) Run(ctx context.Context, sess *session.Session, prompt string) (*RunResult, error) {
	if prompt != "" {
		sess.AddMessage(provider.TextMessage(provider.RoleUser, prompt))
	}

	res := &RunResult{StopCause: StopCompleted}
	callLoop := &doomLoopDetector{}
	failLoop := &failureLoopDetector{}

	for iteration := 0; r.maxIterations == 0 || iteration < r.maxIterations; iteration++ {
		if ctx.Err() != nil {
			res.StopCause = StopInterrupted
			return res, nil
		}

		if r.prune.TargetTokens > 0 {
			sess.Prune(r.prune)
		}

		stepCtx, step, err := r.generateWithRetry(ctx, sess.Messages, iteration)
		if err != nil {
			if ctx.Err() != nil {
				res.StopCause = StopInterrupted
				return res, nil
			}
			return nil, err
		}

		res.Steps++
		res.Usage.Add(step.Usage)
		if step.Text != "" {
			res.FinalText = step.Text
		}
		sess.AddMessage(step.AssistantMessage())

		if err := r.accountStep(ctx, step); err != nil {
			return res, err
		}
		// Budget check runs after accounting and before tool execution,
		// so an over-budget step never triggers more tool work.
		if r.budget != nil && r.budget.ShouldStop() {
			r.notice("budget exceeded: " + r.budget.Status().String())
			res.StopCause = StopBudget
			return res, nil
		}

		if len(step.ToolCalls) == 0 {
			res.StopCause = StopCompleted
			return res, nil
		}

		if r.maxIterations > 0 && iteration == r.maxIterations-1 {
			r.notice(fmt.Sprintf("reached max iterations (%d), stopping", r.maxIterations))
			res.StopCause = StopMaxIterations
			return res, nil
		}

		switch callLoop.check(step.ToolCalls) {
		case doomLoopWarn:
			r.notice("possible tool loop detected, injecting hint")
			sess.AddMessage(loopHintMessage())
		case doomLoopStop:
			r.notice("tool loop detected, stopping")
			res.StopCause = StopDoomLoop
			return res, nil
		}

		// Tool calls run under the step context so their spans correlate
		// to this step.
		results, interrupted := r.executeToolCalls(stepCtx, step.ToolCalls)
		sess.AddMessage(provider.Message{Role: provider.RoleUser, Parts: results})
		if interrupted {
			res.StopCause = StopInterrupted
			return res, nil
		}

		switch failLoop.check(step.ToolCalls, results) {
		case doomLoopWarn:
			r.notice("repeated failing tool batch, injecting hint")
			sess.AddMessage(loopHintMessage())
		case doomLoopStop:
			r.notice("repeated failing tool batch, stopping")
			res.StopCause = StopDoomLoop
			return res, nil
		}
	}

	res.StopCause = StopMaxIterations
	return res, nil
}

// generateWithRetry performs one model call, retrying transient API
// errors with exponential backoff. The returned context carries the
// step span, for correlating the tool calls that follow.
func (r *Runner) generateWithRetry(ctx context.Context, history []provider.Message, iteration int) (context.Context, *provider.StepResult, error) {
	req := &provider.Request{
		Model:        r.model,
		SystemPrompt: r.systemPrompt,
		Messages:     history,
		Tools:        r.buildToolSchemas(),
		MaxTokens:    r.maxTokens,
	}

	stepCtx, span := r.traceStep(ctx, iteration)

	var step *provider.StepResult
	var err error
	for attempt := range maxRetries + 1 {
		step, err = r.gen.Generate(stepCtx, req)
		if err == nil {
			break
		}
		if ctx.Err() != nil || attempt >= maxRetries || !isRetryableError(err) {
			break
		}
		delay := retryDelay(attempt)
		r.notice(formatRetryMessage(attempt, maxRetries, delay, err))
		if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
			break
		}
	}
	if err != nil {
		span.End(err)
		return stepCtx, nil, fmt.Errorf("model call failed: %w", err)
	}
	span.End(nil)
	return stepCtx, step, nil
}

// accountStep reports the step to the budget tracker. A returned error
// means the unpriced-model callback aborted the run.
func (r *Runner) accountStep(ctx context.Context, step *provider.StepResult) error {
	if r.budget == nil {
		return nil
	}
	model := r.model
	if model == "" {
		model = r.gen.DefaultModel()
	}
	if err := r.budget.OnStepFinish(ctx, budget.Step{ModelID: model, Usage: step.Usage}); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	return nil
}

// executeToolCalls runs the batch and returns tool_result parts in call
// order. Multiple calls execute concurrently. The second return value
// is true when the context was cancelled during execution; calls that
// were skipped because of the cancellation get placeholder results so
// the history stays well formed.
func (r *Runner) executeToolCalls(ctx context.Context, calls []provider.ToolCall) ([]provider.Part, bool) {
	if len(calls) == 1 {
		part := r.executeSingleToolCall(ctx, calls[0])
		return []provider.Part{part}, ctx.Err() != nil
	}

	resultSlots := make([]provider.Part, len(calls))
	var interrupted atomic.Bool
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c provider.ToolCall) {
			defer wg.Done()
			if interrupted.Load() {
				return
			}
			resultSlots[idx] = r.executeSingleToolCall(ctx, c)
			if ctx.Err() != nil {
				interrupted.Store(true)
			}
		}(i, call)
	}
	wg.Wait()

	wasInterrupted := interrupted.Load()
	results := make([]provider.Part, 0, len(calls))
	for i, call := range calls {
		if resultSlots[i].Type != "" {
			results = append(results, resultSlots[i])
			continue
		}
		// Skipped due to interruption.
		results = append(results, provider.Part{
			Type:       provider.PartTypeToolResult,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolResult: json.RawMessage(`{"content":"[run interrupted, tool was not executed]"}`),
		})
	}
	return results, wasInterrupted
}

func (r *Runner) executeSingleToolCall(ctx context.Context, call provider.ToolCall) provider.Part {
	result := r.executor.Execute(ctx, call.Name, call.Input)
	return provider.Part{
		Type:       provider.PartTypeToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolResult: result.Payload,
		IsError:    result.IsError,
	}
}

// buildToolSchemas converts the registry into the wire schema list.
func (r *Runner) buildToolSchemas() []provider.ToolSchema {
	all := r.registry.All()
	schemas := make([]provider.ToolSchema, 0, len(all))
	for _, t := range all {
		schemas = append(schemas, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return schemas
}

func (r *Runner) traceStep(ctx context.Context, iteration int) (context.Context, *trace.Span) {
	tr := r.tracer
	if tr == nil {
		tr = trace.Default()
	}
	model := r.model
	if model == "" {
		model = r.gen.DefaultModel()
	}
	return tr.Start(ctx, "agent.step", map[string]any{
		"iteration": iteration,
		"model":     model,
	})
}

func loopHintMessage() provider.Message {
	return provider.TextMessage(provider.RoleUser,
		"[SYSTEM] You have been issuing the same tool calls repeatedly. "+
			"This looks like an infinite loop. Try a different approach or stop calling tools.")
}
