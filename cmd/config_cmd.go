// Package cmd implements the chatmeter CLI commands.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	fmt.Printf("  Config file: %s\n", path)
	if config.Exists(path) {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	dbPath := cfg.DBPath()
	if flagDB != "" {
		dbPath = flagDB
	}
	fmt.Printf("  Database:    %s\n", dbPath)
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Default days:  %d\n", cfg.General.DefaultDays)
	fmt.Printf("    System prompt: %s\n", truncate(cfg.General.SystemPrompt, 60))
	fmt.Println()

	fmt.Println("  [Provider]")
	if cfg.Provider.APIKey != "" {
		fmt.Printf("    API key:     %s\n", maskAPIKey(cfg.Provider.APIKey))
	} else {
		fmt.Println("    API key:     not configured")
	}
	fmt.Printf("    Base URL:    %s\n", cfg.Provider.BaseURL)
	fmt.Printf("    Timeout:     %s\n", cfg.Provider.Timeout())
	fmt.Printf("    Temperature: %.2f\n", cfg.Provider.Temperature)
	fmt.Printf("    Max tokens:  %d\n", cfg.Provider.MaxTokens)
	if cfg.Provider.RequestsPerMinute > 0 {
		fmt.Printf("    Rate limit:  %d/min\n", cfg.Provider.RequestsPerMinute)
	}
	fmt.Println()

	fmt.Println("  [Models]")
	pricing, err := config.LoadPricing(cfg.Models)
	if err != nil {
		fmt.Println(cli.RenderWarning(err.Error()))
	}
	if cfg.Models.File != "" {
		fmt.Printf("    Catalog file:  %s\n", cfg.Models.File)
	}
	fmt.Printf("    Default model: %s\n", pricing.DefaultModel())
	fmt.Printf("    Available:     %d of %d\n", len(pricing.Available()), len(pricing.Models()))
	fmt.Println()

	fmt.Println("  [Ledger]")
	fmt.Printf("    Charges budgets: %s\n", strings.Join(cfg.Ledger.SpendBudgets, ", "))
	fmt.Printf("    Store timeout:   %s\n", cfg.Ledger.StoreTimeout())
	fmt.Println()

	fmt.Println("  [Budget]")
	fmt.Printf("    Auto rollover: %v\n", cfg.Budget.AutoRollover)
	fmt.Println()

	fmt.Println("  [Analytics]")
	fmt.Printf("    Assumed session: %d messages, %d in / %d out tokens each\n",
		cfg.Analytics.MessagesPerSession, cfg.Analytics.InputTokensPerMessage, cfg.Analytics.OutputTokensPerMessage)
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address:  %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Interval: %ds\n", cfg.Daemon.PollIntervalSec)
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Println("  Run `chatmeter setup` to reconfigure.")
	return nil
}
