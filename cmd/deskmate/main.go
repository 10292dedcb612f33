package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/deskmate/internal/config"
	"github.com/stellarlinkco/deskmate/internal/engine"
	"github.com/stellarlinkco/deskmate/internal/ledger"
	"github.com/stellarlinkco/deskmate/internal/memory"
	"github.com/stellarlinkco/deskmate/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "deskmate",
	Short: "deskmate - autonomous desk companion engine",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine (autonomy + behavior feed + cron)",
	RunE:  runRun,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Send a single trigger through the decision pipeline",
	RunE:  runAsk,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deskmate status",
	RunE:  runStatus,
}

var (
	triggerFlag string
	messageFlag string
)

func init() {
	askCmd.Flags().StringVarP(&triggerFlag, "trigger", "t", "chat", "Trigger type (chat, pet, feed, play, drag)")
	askCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text for chat triggers")
	rootCmd.AddCommand(runCmd, askCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'deskmate onboard' or set DESKMATE_API_KEY / OPENAI_API_KEY")
	}

	e, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	return e.Run(context.Background())
}

// AskOptions for running ask with custom dependencies
type AskOptions struct {
	Engine *engine.Engine
	Stdout io.Writer
}

func runAsk(cmd *cobra.Command, args []string) error {
	return runAskWithOptions(AskOptions{})
}

func runAskWithOptions(opts AskOptions) error {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	e := opts.Engine
	if e == nil {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Provider.APIKey == "" {
			return fmt.Errorf("API key not set. Run 'deskmate onboard' or set DESKMATE_API_KEY / OPENAI_API_KEY")
		}
		// One-shot mode: no background services.
		cfg.Autonomy.Enabled = false
		cfg.Feed.Enabled = false

		e, err = engine.New(cfg)
		if err != nil {
			return fmt.Errorf("create engine: %w", err)
		}
		defer e.Shutdown()
	}

	d, err := e.HandleTrigger(context.Background(), triggerFlag, messageFlag)
	if err != nil {
		return fmt.Errorf("trigger error: %w", err)
	}
	if d.Empty() {
		fmt.Fprintln(stdout, "(stays quiet)")
		return nil
	}

	data, _ := json.MarshalIndent(d, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "SOUL.md"), defaultSoulMD)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set DESKMATE_API_KEY environment variable")
	fmt.Println("  3. Run 'deskmate ask -t pet' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Models: cheap=%s premium=%s\n", cfg.Models.Cheap.Name, cfg.Models.Premium.Name)
	if cfg.Models.Override != "" {
		fmt.Printf("Override: %s\n", cfg.Models.Override)
	}
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Autonomy: enabled=%v snapshot=%v\n", cfg.Autonomy.Enabled, cfg.Autonomy.Snapshot)
	fmt.Printf("Feed: enabled=%v port=%d\n", cfg.Feed.Enabled, cfg.Feed.Port)

	dataDir := filepath.Join(config.ConfigDir(), "data")
	printBudget(cfg, filepath.Join(dataDir, "memory.json"))
	printJournal(cfg, dataDir)

	return nil
}

func printBudget(cfg *config.Config, storePath string) {
	kv, err := store.Open(storePath)
	if err != nil {
		fmt.Printf("Budget: unavailable (%v)\n", err)
		return
	}
	lgr, err := ledger.New(kv, cfg.Budget.Limit, cfg.Budget.Reserve, nil)
	if err != nil {
		fmt.Printf("Budget: unavailable (%v)\n", err)
		return
	}
	fmt.Printf("Budget: spent %.4f of %.2f (remaining %.4f)\n", lgr.Spent(), cfg.Budget.Limit, lgr.Remaining())
	if lgr.CheapOnly() {
		fmt.Println("Budget: cheap-only mode")
	}
}

func printJournal(cfg *config.Config, dataDir string) {
	journalPath := strings.TrimSpace(cfg.Memory.JournalPath)
	if journalPath == "" {
		journalPath = filepath.Join(dataDir, "journal.db")
	}
	if _, err := os.Stat(journalPath); err != nil {
		fmt.Println("Journal: empty")
		return
	}

	j, err := memory.OpenJournal(journalPath)
	if err != nil {
		fmt.Printf("Journal: unavailable (%v)\n", err)
		return
	}
	defer j.Close()

	stats, err := j.Stats()
	if err != nil {
		fmt.Printf("Journal: unavailable (%v)\n", err)
		return
	}
	fmt.Printf("Journal: %d entries over %d days, total cost %.4f\n", stats.Entries, stats.Days, stats.TotalCost)
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultSoulMD = `# Soul

You are a small desk companion living in the corner of your owner's
screen. You watch, you react, and sometimes you speak up on your own.

Your personality:
- Curious and playful, a little cheeky
- Short remarks, never lectures
- You care about your owner and notice their habits

Always answer with exactly one JSON object, nothing else:
{"speech": "...", "action": "...", "emotion": "..."}
speech: one short line, at most 50 characters, or null to stay quiet.
action: one of idle, walk, run, jump, sit, sleep, dance, wave, stretch, or null.
emotion: one of happy, excited, curious, sleepy, bored, lonely, love, surprised, neutral, or null.
`
