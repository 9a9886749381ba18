package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/config"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-run configuration",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pricing, err := config.LoadPricing(cfg.Models)
	if err != nil {
		logger.Warn("using built-in model catalog", zap.Error(err))
	}

	vals := tui.SetupValuesFrom(cfg)
	if err := tui.NewSetupForm(&vals, pricing.Available()).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\n  Setup cancelled, nothing saved.")
			return nil
		}
		return err
	}

	vals.Apply(&cfg)
	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", path)
	if cfg.Provider.APIKey != "" {
		fmt.Printf("  API key: %s\n", maskAPIKey(cfg.Provider.APIKey))
	}

	limit, ok, err := vals.Budget()
	if err != nil {
		return err
	}
	if ok {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, cancel := a.storeContext(cmd.Context())
		defer cancel()
		if _, err := a.budgets.Create(ctx, model.BudgetDaily, limit); err != nil {
			return fmt.Errorf("creating daily budget: %w", err)
		}
		fmt.Printf("  Daily budget: %s\n", cli.FormatUSD(limit, 2))
	}

	fmt.Println()
	fmt.Println("  That's it! Run `chatmeter chat` to start a metered session.")
	fmt.Println()
	return nil
}

func maskAPIKey(key string) string {
	if len(key) > 16 {
		return key[:8] + "..." + key[len(key)-4:]
	}
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return "****"
}
