package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/loadout-ai/loadout/internal/config"
	"github.com/loadout-ai/loadout/internal/ledger"
	"github.com/loadout-ai/loadout/internal/pricing"
	"github.com/loadout-ai/loadout/internal/provider"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgFile      string
	modelFlag    string
	providerFlag string
	maxTurnsFlag int
	maxUSDFlag   float64
	workDirFlag  string

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	rootCmd := &cobra.Command{
		Use:   "loadout",
		Short: "Budget-capped LLM agent over a read-only tool belt",
		Long: "loadout runs an LLM agent over cached read-only tools, with per-run\n" +
			"spend caps, history pruning, and a persistent usage ledger.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Styled output only when stdout is a terminal.
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				lipgloss.SetColorProfile(termenv.Ascii)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/loadout/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider")
	rootCmd.PersistentFlags().IntVar(&maxTurnsFlag, "max-turns", 0, "max agent loop iterations (0=unlimited)")
	rootCmd.PersistentFlags().Float64Var(&maxUSDFlag, "max-usd", 0, "per-run spend cap in dollars (0=uncapped)")
	rootCmd.PersistentFlags().StringVar(&workDirFlag, "workdir", "", "root directory for tool paths (default current directory)")

	// Subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPricingCmd())
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newPruneCmd())
	rootCmd.AddCommand(newUsageCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if maxTurnsFlag > 0 {
		cfg.MaxIterations = maxTurnsFlag
	}
	if maxUSDFlag > 0 {
		cfg.Budget.MaxUSD = maxUSDFlag
	}
	if workDirFlag != "" {
		cfg.Tools.WorkDir = workDirFlag
	}

	return cfg
}

// providerBaseURLs references the canonical map in the config package.
var providerBaseURLs = config.KnownProviderBaseURLs

// buildGenerator creates a Generator instance based on configuration.
func buildGenerator(cfg *config.Config) (provider.Generator, error) {
	name := cfg.Provider
	pc := cfg.GetProviderConfig(name)

	apiKey := pc.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY",
			name, name,
		)
	}

	// Determine model: CLI flag > config file > provider defaults
	model := cfg.Model
	if pc.Model != "" && model == "" {
		model = pc.Model
	}
	if model == "" {
		if m, ok := config.KnownProviderModels[name]; ok {
			model = m
		}
	}

	switch name {
	case "anthropic":
		return provider.NewAnthropicGenerator(apiKey, pc.BaseURL, model), nil
	default:
		// All other providers use OpenAI-compatible API
		baseURL := pc.BaseURL
		if baseURL == "" {
			if u, ok := providerBaseURLs[name]; ok {
				baseURL = u
			} else {
				return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
			}
		}
		return provider.NewOpenAIGenerator(apiKey, baseURL, model), nil
	}
}

// catalogService builds the pricing catalog client from config.
func catalogService(cfg *config.Config) *pricing.CatalogService {
	url := cfg.Pricing.CatalogURL
	if url == "" {
		url = pricing.DefaultCatalogURL
	}
	var opts []pricing.CatalogOption
	if cfg.Pricing.CatalogTTLHours > 0 {
		opts = append(opts, pricing.WithTTL(time.Duration(cfg.Pricing.CatalogTTLHours)*time.Hour))
	}
	return pricing.NewCatalogService(url, opts...)
}

// pricingOverrides converts the config's per-million rates into the
// per-token rates the resolver works with.
func pricingOverrides(cfg *config.Config) map[string]pricing.Pricing {
	if len(cfg.Pricing.Overrides) == 0 {
		return nil
	}
	overrides := make(map[string]pricing.Pricing, len(cfg.Pricing.Overrides))
	for id, ov := range cfg.Pricing.Overrides {
		overrides[id] = pricing.Pricing{
			Input:      ov.InputPerMillion / 1_000_000,
			Output:     ov.OutputPerMillion / 1_000_000,
			CacheRead:  ov.CacheReadPerMillion / 1_000_000,
			CacheWrite: ov.CacheWritePerMillion / 1_000_000,
		}
	}
	return overrides
}

// buildResolver wires catalog and overrides into a rate resolver. warn
// receives each model id that resolves to no rate (once per id); nil
// silences resolver warnings for commands that report the miss
// themselves.
func buildResolver(cfg *config.Config, warn func(modelID string)) *pricing.Resolver {
	var opts []pricing.ResolverOption
	if ov := pricingOverrides(cfg); ov != nil {
		opts = append(opts, pricing.WithOverrides(ov))
	}
	opts = append(opts, pricing.WithWarnFunc(warn))
	return pricing.NewResolver(catalogService(cfg), opts...)
}

// openLedger opens the usage ledger, or returns nil when disabled.
func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	if cfg.Ledger.Disabled {
		return nil, nil
	}
	path := cfg.Ledger.Path
	if path == "" {
		p, err := ledger.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("ledger path: %w", err)
		}
		path = p
	}
	return ledger.Open(path)
}
