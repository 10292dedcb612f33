package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultCheapModel      = "gpt-4o-mini"
	DefaultPremiumModel    = "gpt-4o"
	DefaultCheapPriceIn    = 0.15  // currency per million input tokens
	DefaultCheapPriceOut   = 0.60  // currency per million output tokens
	DefaultPremiumPriceIn  = 2.50
	DefaultPremiumPriceOut = 10.00
	DefaultMaxTokens       = 512
	DefaultBudgetLimit     = 5.00
	DefaultBudgetReserve   = 0.50
	DefaultFeedHost        = "127.0.0.1"
	DefaultFeedPort        = 18930
	DefaultBusBufSize      = 64
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Models   ModelsConfig   `json:"models"`
	Budget   BudgetConfig   `json:"budget"`
	Autonomy AutonomyConfig `json:"autonomy"`
	Feed     FeedConfig     `json:"feed"`
	Memory   MemoryConfig   `json:"memory"`
}

type AgentConfig struct {
	Workspace string `json:"workspace"`
	MaxTokens int    `json:"maxTokens"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ModelConfig struct {
	Name     string  `json:"name"`
	PriceIn  float64 `json:"priceIn"`  // per million input tokens
	PriceOut float64 `json:"priceOut"` // per million output tokens
}

type ModelsConfig struct {
	Cheap    ModelConfig `json:"cheap"`
	Premium  ModelConfig `json:"premium"`
	Override string      `json:"override,omitempty"` // "", "cheap" or "premium"
}

type BudgetConfig struct {
	Limit   float64 `json:"limit"`   // total spend allowed for the period
	Reserve float64 `json:"reserve"` // below this remaining, cheap-only
}

type AutonomyConfig struct {
	Enabled  bool `json:"enabled"`
	Snapshot bool `json:"snapshot"` // allow screen snapshots on ticks
}

type FeedConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type MemoryConfig struct {
	JournalPath string `json:"journalPath,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace: filepath.Join(home, ".deskmate", "workspace"),
			MaxTokens: DefaultMaxTokens,
		},
		Provider: ProviderConfig{},
		Models: ModelsConfig{
			Cheap: ModelConfig{
				Name:     DefaultCheapModel,
				PriceIn:  DefaultCheapPriceIn,
				PriceOut: DefaultCheapPriceOut,
			},
			Premium: ModelConfig{
				Name:     DefaultPremiumModel,
				PriceIn:  DefaultPremiumPriceIn,
				PriceOut: DefaultPremiumPriceOut,
			},
		},
		Budget: BudgetConfig{
			Limit:   DefaultBudgetLimit,
			Reserve: DefaultBudgetReserve,
		},
		Autonomy: AutonomyConfig{
			Enabled:  true,
			Snapshot: true,
		},
		Feed: FeedConfig{
			Enabled: true,
			Host:    DefaultFeedHost,
			Port:    DefaultFeedPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".deskmate")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("DESKMATE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("DESKMATE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if name := os.Getenv("DESKMATE_CHEAP_MODEL"); name != "" {
		cfg.Models.Cheap.Name = name
	}
	if name := os.Getenv("DESKMATE_PREMIUM_MODEL"); name != "" {
		cfg.Models.Premium.Name = name
	}
	if override := os.Getenv("DESKMATE_MODEL_OVERRIDE"); override != "" {
		cfg.Models.Override = override
	}
	if limit := os.Getenv("DESKMATE_BUDGET_LIMIT"); limit != "" {
		if parsed, err := strconv.ParseFloat(limit, 64); err == nil {
			cfg.Budget.Limit = parsed
		}
	}
	if reserve := os.Getenv("DESKMATE_BUDGET_RESERVE"); reserve != "" {
		if parsed, err := strconv.ParseFloat(reserve, 64); err == nil {
			cfg.Budget.Reserve = parsed
		}
	}
	if enabled := os.Getenv("DESKMATE_AUTONOMY"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Autonomy.Enabled = parsed
		}
	}
	if enabled := os.Getenv("DESKMATE_FEED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Feed.Enabled = parsed
		}
	}
	if port := os.Getenv("DESKMATE_FEED_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Feed.Port = parsed
		}
	}
	if path := os.Getenv("DESKMATE_JOURNAL_PATH"); path != "" {
		cfg.Memory.JournalPath = path
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Budget.Limit <= 0 {
		cfg.Budget.Limit = DefaultBudgetLimit
	}
	if cfg.Budget.Reserve < 0 {
		cfg.Budget.Reserve = DefaultBudgetReserve
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
