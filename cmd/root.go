package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/analytics"
	"github.com/theirongolddev/chatmeter/internal/budget"
	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/config"
	"github.com/theirongolddev/chatmeter/internal/cost"
	"github.com/theirongolddev/chatmeter/internal/ledger"
	"github.com/theirongolddev/chatmeter/internal/logging"
	"github.com/theirongolddev/chatmeter/internal/metrics"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/store"
)

var (
	flagDays    int
	flagConfig  string
	flagDB      string
	flagQuiet   bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "chatmeter",
	Short:         "Chat cost accounting and budget tracking",
	Long:          "Track what every chat message costs, keep spend inside daily, monthly and total budgets, and compare models.",
	RunE:          runCosts,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
// Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagDays, "days", "n", 0, "Time window in days (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
}

// app is the wiring shared by every command.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	db       *store.SQLite
	pricing  *config.PricingTable
	calc     *cost.Calculator
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	budgets  *budget.Tracker
	usage    *analytics.Aggregator
}

// loadConfig reads .env files and the config file, then applies the
// logging flags.
func loadConfig() (config.Config, *zap.Logger, error) {
	config.LoadDotenv()
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, nil, err
	}
	switch {
	case flagVerbose:
		cfg.Logging.Level = "debug"
	case flagQuiet:
		cfg.Logging.Level = "error"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

// openApp loads config, opens the database and builds the components.
func openApp() (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	dbPath := cfg.DBPath()
	if flagDB != "" {
		dbPath = flagDB
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	logger.Debug("database opened", zap.String("path", dbPath))

	pricing, err := config.LoadPricing(cfg.Models)
	if err != nil {
		var cerr *config.ConfigurationError
		if !errors.As(err, &cerr) {
			_ = db.Close()
			return nil, err
		}
		logger.Warn("using built-in model catalog", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	calc := cost.NewCalculator(pricing)

	a := &app{
		cfg:      cfg,
		log:      logger,
		db:       db,
		pricing:  pricing,
		calc:     calc,
		registry: reg,
		metrics:  m,
	}
	a.budgets = budget.NewTracker(db, logger.Named("budget"), budget.Options{
		AutoRollover: cfg.Budget.AutoRollover,
		Metrics:      m,
	})
	a.usage = analytics.New(db, calc, logger.Named("analytics"), analytics.Options{
		Assumptions: analytics.Assumptions{
			MessagesPerSession:     cfg.Analytics.MessagesPerSession,
			InputTokensPerMessage:  cfg.Analytics.InputTokensPerMessage,
			OutputTokensPerMessage: cfg.Analytics.OutputTokensPerMessage,
		},
	})
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("closing database", zap.Error(err))
	}
	_ = a.log.Sync()
}

// storeContext bounds one command's database work.
func (a *app) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := a.cfg.Ledger.StoreTimeout()
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// newLedger builds a ledger that charges the configured budgets.
func (a *app) newLedger() *ledger.Ledger {
	spend := make([]model.BudgetType, 0, len(a.cfg.Ledger.SpendBudgets))
	for _, s := range a.cfg.Ledger.SpendBudgets {
		bt := model.BudgetType(s)
		if !bt.Valid() {
			a.log.Warn("ignoring unknown spend budget", zap.String("budget", s))
			continue
		}
		spend = append(spend, bt)
	}
	return ledger.New(a.db, a.calc, a.budgets, a.log.Named("ledger"), ledger.Options{
		DefaultModel: a.pricing.DefaultModel(),
		SpendBudgets: spend,
		ExcerptLen:   a.cfg.Ledger.ExcerptChars,
		ContentLen:   a.cfg.Ledger.ContentChars,
		StoreTimeout: a.cfg.Ledger.StoreTimeout(),
		Metrics:      a.metrics,
	})
}

// days returns --days, or the configured default window.
func (a *app) days() int {
	if flagDays > 0 {
		return flagDays
	}
	if a.cfg.General.DefaultDays > 0 {
		return a.cfg.General.DefaultDays
	}
	return 30
}

func formatNumber(n int64) string {
	return cli.FormatNumber(n)
}
