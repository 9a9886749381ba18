package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all chatmeter configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Provider   ProviderConfig   `toml:"provider"`
	Store      StoreConfig      `toml:"store"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Budget     BudgetConfig     `toml:"budget"`
	Analytics  AnalyticsConfig  `toml:"analytics"`
	Logging    LoggingConfig    `toml:"logging"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Appearance AppearanceConfig `toml:"appearance"`
	Models     ModelsConfig     `toml:"models"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	DefaultDays  int    `toml:"default_days"`
	SystemPrompt string `toml:"system_prompt,omitempty"`
}

// ProviderConfig holds the upstream chat completion settings.
type ProviderConfig struct {
	APIKey            string  `toml:"api_key,omitempty" env:"OPENROUTER_API_KEY"`
	BaseURL           string  `toml:"base_url" env:"OPENROUTER_BASE_URL"`
	TimeoutSec        int     `toml:"timeout_sec"`
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int     `toml:"max_tokens"`
	RequestsPerMinute int     `toml:"requests_per_minute,omitempty"`
	Referer           string  `toml:"referer,omitempty"`
	Title             string  `toml:"title,omitempty"`
}

// Timeout returns the provider call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `toml:"path,omitempty" env:"CHATMETER_DB"`
}

// LedgerConfig controls session accounting.
type LedgerConfig struct {
	SpendBudgets    []string `toml:"spend_budgets"`
	ExcerptChars    int      `toml:"excerpt_chars"`
	ContentChars    int      `toml:"content_chars"`
	StoreTimeoutSec int      `toml:"store_timeout_sec"`
}

// StoreTimeout returns the bound applied to each persistence call.
func (l LedgerConfig) StoreTimeout() time.Duration {
	return time.Duration(l.StoreTimeoutSec) * time.Second
}

// BudgetConfig holds budget tracking settings.
type BudgetConfig struct {
	AutoRollover bool `toml:"auto_rollover"`
}

// AnalyticsConfig holds the assumptions used by the cost comparison table.
type AnalyticsConfig struct {
	MessagesPerSession     int `toml:"messages_per_session"`
	InputTokensPerMessage  int `toml:"input_tokens_per_message"`
	OutputTokensPerMessage int `toml:"output_tokens_per_message"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `toml:"level" env:"CHATMETER_LOG_LEVEL"`
	Format string `toml:"format"`
}

// DaemonConfig holds the status service settings.
type DaemonConfig struct {
	Addr            string `toml:"addr"`
	PollIntervalSec int    `toml:"poll_interval_sec"`
	EventsBuffer    int    `toml:"events_buffer"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			DefaultDays:  30,
			SystemPrompt: defaultSystemPrompt,
		},
		Provider: ProviderConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			TimeoutSec:  30,
			Temperature: 0.7,
			MaxTokens:   400,
			Title:       "chatmeter",
		},
		Ledger: LedgerConfig{
			SpendBudgets:    []string{"daily"},
			ExcerptChars:    100,
			ContentChars:    1000,
			StoreTimeoutSec: 10,
		},
		Budget: BudgetConfig{
			AutoRollover: true,
		},
		Analytics: AnalyticsConfig{
			MessagesPerSession:     5,
			InputTokensPerMessage:  350,
			OutputTokensPerMessage: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Daemon: DaemonConfig{
			Addr:            "127.0.0.1:8787",
			PollIntervalSec: 10,
			EventsBuffer:    200,
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
		Models: ModelsConfig{
			DefaultModel: "claude-3.5-sonnet",
			Catalog:      DefaultCatalog(),
		},
	}
}

const defaultSystemPrompt = "You are a helpful marketing assistant. Answer concisely and ask a clarifying question when the request is ambiguous."

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatmeter")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chatmeter")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DataDir returns the XDG-compliant data directory.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatmeter")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "chatmeter")
}

// DBPath returns the configured database path, or the default under DataDir.
func (c Config) DBPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(DataDir(), "chatmeter.db")
}

// LoadDotenv loads .env files from the config dir and the working directory.
// Variables already set in the environment win.
func LoadDotenv() {
	for _, p := range []string{filepath.Join(ConfigDir(), ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads the config file at path (ConfigPath when empty), returning
// defaults if it doesn't exist. Environment overrides are applied last.
func Load(path string) (Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("reading config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cleanenv.UpdateEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}

	return cfg, nil
}

// Save writes the config to path (ConfigPath when empty).
func Save(cfg Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists at path (ConfigPath when empty).
func Exists(path string) bool {
	if path == "" {
		path = ConfigPath()
	}
	_, err := os.Stat(path)
	return err == nil
}
