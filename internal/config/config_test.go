package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Models.Cheap.Name != DefaultCheapModel {
		t.Errorf("cheap model = %q, want %q", cfg.Models.Cheap.Name, DefaultCheapModel)
	}
	if cfg.Models.Premium.Name != DefaultPremiumModel {
		t.Errorf("premium model = %q, want %q", cfg.Models.Premium.Name, DefaultPremiumModel)
	}
	if cfg.Budget.Limit != DefaultBudgetLimit {
		t.Errorf("budget limit = %v, want %v", cfg.Budget.Limit, DefaultBudgetLimit)
	}
	if !cfg.Autonomy.Enabled {
		t.Error("autonomy should be enabled by default")
	}
	if cfg.Agent.Workspace == "" {
		t.Error("workspace should not be empty")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DESKMATE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Models.Cheap.Name != DefaultCheapModel {
		t.Errorf("cheap model = %q, want default %q", cfg.Models.Cheap.Name, DefaultCheapModel)
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("apiKey = %q, want empty", cfg.Provider.APIKey)
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("DESKMATE_API_KEY", "env-key")
	t.Setenv("DESKMATE_MODEL_OVERRIDE", "premium")
	t.Setenv("DESKMATE_BUDGET_LIMIT", "9.5")

	dir := filepath.Join(tmpDir, ".deskmate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	fileCfg := map[string]any{
		"provider": map[string]any{"apiKey": "file-key"},
		"budget":   map[string]any{"limit": 3.0, "reserve": 0.25},
	}
	data, _ := json.Marshal(fileCfg)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("apiKey = %q, env should win over file", cfg.Provider.APIKey)
	}
	if cfg.Models.Override != "premium" {
		t.Errorf("override = %q, want premium", cfg.Models.Override)
	}
	if cfg.Budget.Limit != 9.5 {
		t.Errorf("budget limit = %v, want 9.5", cfg.Budget.Limit)
	}
	if cfg.Budget.Reserve != 0.25 {
		t.Errorf("budget reserve = %v, want 0.25 from file", cfg.Budget.Reserve)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DESKMATE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DESKMATE_MODEL_OVERRIDE", "")
	t.Setenv("DESKMATE_BUDGET_LIMIT", "")

	cfg := DefaultConfig()
	cfg.Models.Override = "cheap"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Models.Override != "cheap" {
		t.Errorf("override = %q, want cheap", loaded.Models.Override)
	}
}
