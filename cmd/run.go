package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loadout-ai/loadout/internal/agent"
	"github.com/loadout-ai/loadout/internal/budget"
	"github.com/loadout-ai/loadout/internal/cache"
	"github.com/loadout-ai/loadout/internal/config"
	"github.com/loadout-ai/loadout/internal/session"
	"github.com/loadout-ai/loadout/internal/tools"
	"github.com/loadout-ai/loadout/internal/trace"
	"github.com/spf13/cobra"
)

// uncappedUSD stands in for "no cap" so uncapped runs still account
// their spend and feed the usage ledger.
const uncappedUSD = 1e9

func newRunCmd() *cobra.Command {
	var prompt string
	var systemPrompt string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single prompt through the agent loop",
		Example: `  loadout run -P "summarize the files under internal/"
  loadout run --max-usd 0.50 -P "find every TODO in this repo"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt / -P is required")
			}
			return runOnce(prompt, systemPrompt)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "P", "", "the prompt to execute")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "override the system prompt")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

// runOnce executes a single prompt and exits.
func runOnce(prompt, systemOverride string) error {
	cfg := initConfig()

	gen, err := buildGenerator(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.Model == "" {
		cfg.Model = gen.DefaultModel()
	}

	tracer := trace.FromEnv()
	trace.SetDefault(tracer)

	executor := buildExecutor(cfg, tracer)

	runnerOpts := []agent.RunnerOption{
		agent.WithTracer(tracer),
		agent.WithModel(cfg.Model),
		agent.WithMaxTokens(cfg.MaxTokens),
		agent.WithMaxIterations(cfg.MaxIterations),
		agent.WithNotice(func(msg string) { fmt.Fprintln(os.Stderr, msg) }),
		agent.WithSystemPrompt(resolveSystemPrompt(cfg, systemOverride)),
		agent.WithPrune(pruneConfig(cfg, gen.ContextWindow())),
	}

	// Accounting runs on every step; the cap only bites when configured.
	capped := cfg.Budget.MaxUSD > 0
	maxUSD := cfg.Budget.MaxUSD
	if !capped {
		maxUSD = uncappedUSD
	}

	resolver := buildResolver(cfg, func(modelID string) {
		fmt.Fprintf(os.Stderr, "[pricing] no pricing found for %q; steps count as unpriced\n", modelID)
	})

	var budgetOpts []budget.Option
	if cfg.Budget.StopOnUnpriced {
		budgetOpts = append(budgetOpts, budget.WithOnUnpricedModel(func(modelID string) error {
			return fmt.Errorf("no pricing for model %q and budget.stop_on_unpriced is set", modelID)
		}))
	}

	led, err := openLedger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open usage ledger:", err)
		os.Exit(1)
	}
	if led != nil {
		defer led.Close()
		budgetOpts = append(budgetOpts, budget.WithObserver(led.Observer()))
	}

	tracker, err := budget.New(maxUSD, resolver, budgetOpts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	runnerOpts = append(runnerOpts, agent.WithBudget(tracker))

	runner := agent.NewRunner(gen, executor, runnerOpts...)
	sess := session.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	res, err := runner.Run(ctx, sess, prompt)
	if err != nil {
		return err
	}

	if res.FinalText != "" {
		fmt.Println(res.FinalText)
	}

	st := tracker.Status()
	if capped {
		fmt.Fprintf(os.Stderr, "\n[budget] %s\n", st)
	} else if st.StepsCompleted > 0 {
		fmt.Fprintf(os.Stderr, "\n[usage] %s across %d steps (%s in / %s out)\n",
			formatCost(st.TotalCostUSD), st.StepsCompleted,
			formatTokens(res.Usage.InputTokens), formatTokens(res.Usage.OutputTokens))
	}

	switch res.StopCause {
	case agent.StopCompleted:
		return nil
	case agent.StopMaxIterations:
		fmt.Fprintf(os.Stderr, "[loadout] stopped after %d iterations (max_iterations)\n", res.Steps)
		return nil
	default:
		return fmt.Errorf("run halted: %s", res.StopCause)
	}
}

// buildExecutor wires the tool registry, timeout, result cache, and
// tracer from config.
func buildExecutor(cfg *config.Config, tracer *trace.Tracer) *tools.Executor {
	registry := tools.DefaultRegistry(cfg.Tools.WorkDir)

	opts := []tools.ExecutorOption{tools.WithTracer(tracer)}
	if cfg.Tools.TimeoutSeconds > 0 {
		opts = append(opts, tools.WithTimeout(time.Duration(cfg.Tools.TimeoutSeconds)*time.Second))
	}
	if !cfg.Cache.Disabled {
		capacity := cfg.Cache.Capacity
		if capacity <= 0 {
			capacity = cache.DefaultCapacity
		}
		ttl := cache.DefaultTTL
		if cfg.Cache.TTLSeconds > 0 {
			ttl = time.Duration(cfg.Cache.TTLSeconds) * time.Second
		}
		opts = append(opts, tools.WithResultCache(cache.NewResultStore(capacity), ttl))
	}
	return tools.NewExecutor(registry, opts...)
}

// resolveSystemPrompt picks the system prompt: flag > config > built-in.
func resolveSystemPrompt(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	return agent.DefaultSystemPrompt(cfg.Tools.WorkDir)
}

// pruneConfig derives the runner's prune settings. An unset target
// falls back to three quarters of the model's context window.
func pruneConfig(cfg *config.Config, contextWindow int) session.PruneConfig {
	pc := session.PruneConfig{
		TargetTokens:             cfg.Prune.TargetTokens,
		MinSavingsTokens:         cfg.Prune.MinSavingsTokens,
		ProtectLastNUserMessages: cfg.Prune.ProtectLastUserMessages,
	}
	if pc.TargetTokens <= 0 {
		window := cfg.ContextWindow
		if window <= 0 {
			window = contextWindow
		}
		pc.TargetTokens = window * 3 / 4
	}
	return pc
}
