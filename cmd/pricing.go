package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loadout-ai/loadout/internal/pricing"
	"github.com/spf13/cobra"
)

func newPricingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pricing <model-id>",
		Short: "Resolve the per-token rates for a model",
		Long: "Resolves a model id against pricing.overrides and the remote catalog,\n" +
			"using the same matching the budget tracker uses at run time.",
		Example: `  loadout pricing claude-sonnet-4-20250514
  loadout pricing deepseek/deepseek-chat`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPricing(args[0])
		},
	}
}

func runPricing(modelID string) error {
	cfg := initConfig()
	resolver := buildResolver(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := resolver.Resolve(ctx, modelID)
	if err != nil {
		if errors.Is(err, pricing.ErrNotFound) {
			return fmt.Errorf("no pricing found for %q; add a pricing.overrides entry to price it manually", modelID)
		}
		return err
	}

	rows := [][]string{
		{"input", formatPerMillion(p.Input)},
		{"output", formatPerMillion(p.Output)},
	}
	if p.CacheRead > 0 {
		rows = append(rows, []string{"cache read", formatPerMillion(p.CacheRead)})
	}
	if p.CacheWrite > 0 {
		rows = append(rows, []string{"cache write", formatPerMillion(p.CacheWrite)})
	}

	fmt.Print(renderTable(table{
		Title:   truncateModelID(modelID),
		Headers: []string{"Rate", "USD / MTok"},
		Rows:    rows,
	}))
	return nil
}
