// Package config loads and manages loadout configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (LLM_API_KEY, LLM_BASE_URL, LLM_MODEL, ANTHROPIC_API_KEY, LOADOUT_*)
// 2. Config file path specified via --config flag
// 3. ~/.config/loadout/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds configuration for a single provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// BudgetConfig holds the spend cap settings.
type BudgetConfig struct {
	// MaxUSD is the per-run spending cap in dollars. 0 disables the cap.
	MaxUSD float64 `yaml:"max_usd"`

	// StopOnUnpriced aborts the run when a step's model has no
	// resolvable rate, instead of counting it as a $0 unpriced step.
	StopOnUnpriced bool `yaml:"stop_on_unpriced"`
}

// PricingOverride is a user-defined rate for a model, in dollars per
// million tokens (the unit vendors publish).
type PricingOverride struct {
	InputPerMillion      float64 `yaml:"input_per_million"`
	OutputPerMillion     float64 `yaml:"output_per_million"`
	CacheReadPerMillion  float64 `yaml:"cache_read_per_million"`
	CacheWritePerMillion float64 `yaml:"cache_write_per_million"`
}

// PricingConfig holds rate resolution settings.
type PricingConfig struct {
	// CatalogURL overrides the default remote catalog endpoint.
	CatalogURL string `yaml:"catalog_url"`

	// CatalogTTLHours is how long a fetched catalog stays fresh.
	// 0 uses the built-in default (24h).
	CatalogTTLHours int `yaml:"catalog_ttl_hours"`

	// Overrides maps exact model ids to user rates, which win over
	// every catalog entry.
	Overrides map[string]PricingOverride `yaml:"overrides"`
}

// CacheConfig holds tool-result cache settings.
type CacheConfig struct {
	// Disabled turns result caching off entirely.
	Disabled bool `yaml:"disabled"`

	// Capacity bounds the number of retained results. 0 uses the
	// built-in default (1000).
	Capacity int `yaml:"capacity"`

	// TTLSeconds is how long a cached result stays servable.
	// 0 uses the built-in default (300).
	TTLSeconds int `yaml:"ttl_seconds"`
}

// PruneConfig holds history compaction settings.
type PruneConfig struct {
	// TargetTokens is the size the history is compacted toward before
	// each step. 0 derives a target from the model's context window.
	TargetTokens int `yaml:"target_tokens"`

	// MinSavingsTokens suppresses compaction when the achievable
	// savings fall below this.
	MinSavingsTokens int `yaml:"min_savings_tokens"`

	// ProtectLastUserMessages anchors the protection boundary: history
	// at or after the N-th-from-last user message is never compacted.
	ProtectLastUserMessages int `yaml:"protect_last_user_messages"`
}

// LedgerConfig holds usage history settings.
type LedgerConfig struct {
	// Path is the sqlite file recording accounted steps.
	// Empty uses ~/.local/share/loadout/ledger.db.
	Path string `yaml:"path"`

	// Disabled turns step recording off.
	Disabled bool `yaml:"disabled"`
}

// ToolsConfig holds tool execution settings.
type ToolsConfig struct {
	// WorkDir roots relative tool paths. Empty = current directory.
	WorkDir string `yaml:"work_dir"`

	// TimeoutSeconds bounds a single tool execution.
	// 0 uses the built-in default (60).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Config is the complete configuration structure for loadout.
type Config struct {
	// Provider is the active provider name (e.g. "deepseek", "anthropic", "openai")
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Providers holds per-provider configuration.
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// SystemPrompt is a custom system prompt (empty uses default).
	SystemPrompt string `yaml:"system_prompt"`

	// MaxIterations is the max number of agent loop iterations.
	// 0 = unlimited (default). Loop exits when model stops calling tools.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokens caps the per-step completion size.
	MaxTokens int `yaml:"max_tokens"`

	// ContextWindow overrides the provider's default context window size.
	// 0 = use provider default.
	ContextWindow int `yaml:"context_window"`

	// Budget holds the spend cap settings.
	Budget BudgetConfig `yaml:"budget"`

	// Pricing holds rate resolution settings.
	Pricing PricingConfig `yaml:"pricing"`

	// Cache holds tool-result cache settings.
	Cache CacheConfig `yaml:"cache"`

	// Prune holds history compaction settings.
	Prune PruneConfig `yaml:"prune"`

	// Ledger holds usage history settings.
	Ledger LedgerConfig `yaml:"ledger"`

	// Tools holds tool execution settings.
	Tools ToolsConfig `yaml:"tools"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:      "openai",
		MaxIterations: 0,
		MaxTokens:     8192,
		Providers:     make(map[string]*ProviderConfig),
		Pricing: PricingConfig{
			CatalogTTLHours: 24,
		},
		Cache: CacheConfig{
			Capacity:   1000,
			TTLSeconds: 300,
		},
		Prune: PruneConfig{
			MinSavingsTokens:        256,
			ProtectLastUserMessages: 2,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 60,
		},
	}
}

// Load reads the config file and merges environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Determine config file path
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "loadout", "config.yaml")
		}
	}

	// Read config file (use defaults if not found)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Initialize providers map
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}

	return cfg, nil
}

// GetProviderConfig returns the config for the named provider, or an empty config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

// KnownProviderBaseURLs maps well-known provider names to their base
// URLs. An empty value means the SDK default endpoint.
var KnownProviderBaseURLs = map[string]string{
	"openai":    "",
	"anthropic": "",
	"deepseek":  "https://api.deepseek.com/v1",
	"minimax":   "https://api.minimax.chat/v1",
	"kimi":      "https://api.moonshot.cn/v1",
	"qwen":      "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"glm":       "https://open.bigmodel.cn/api/paas/v4",
	"groq":      "https://api.groq.com/openai/v1",
}

// KnownProviderModels maps well-known provider names to their default models.
var KnownProviderModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-sonnet-4-20250514",
	"deepseek":  "deepseek-chat",
	"kimi":      "kimi-k2-0711-preview",
	"qwen":      "qwen-plus",
	"glm":       "glm-4.5",
	"groq":      "llama-3.3-70b-versatile",
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	// Generic overrides apply to the active provider
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	// Vendor-specific keys
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if cfg.Providers["anthropic"] == nil {
			cfg.Providers["anthropic"] = &ProviderConfig{}
		}
		cfg.Providers["anthropic"].APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Providers["openai"] == nil {
			cfg.Providers["openai"] = &ProviderConfig{}
		}
		cfg.Providers["openai"].APIKey = v
	}

	// Provider selection
	if v := os.Getenv("LOADOUT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("LOADOUT_MODEL"); v != "" {
		cfg.Model = v
	}

	// Budget and accounting
	if v := os.Getenv("LOADOUT_MAX_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.MaxUSD = f
		}
	}
	if v := os.Getenv("LOADOUT_CATALOG_URL"); v != "" {
		cfg.Pricing.CatalogURL = v
	}
	if v := os.Getenv("LOADOUT_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}

	// Tool execution
	if v := os.Getenv("LOADOUT_WORKDIR"); v != "" {
		cfg.Tools.WorkDir = v
	}
}
