package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.General.DefaultDays)
	assert.Equal(t, 30, cfg.Provider.TimeoutSec)
	assert.Equal(t, []string{"daily"}, cfg.Ledger.SpendBudgets)
	assert.Equal(t, 5, cfg.Analytics.MessagesPerSession)
	assert.Len(t, cfg.Models.Catalog, 6)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.toml", `
[provider]
api_key = "from-file"

[store]
path = "/tmp/file.db"
`)
	t.Setenv("OPENROUTER_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.APIKey)
	assert.Equal(t, "/tmp/file.db", cfg.DBPath())
}

func TestLoad_ParseError(t *testing.T) {
	path := writeFile(t, "config.toml", "[general\ndefault_days = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.General.DefaultDays = 7
	cfg.Models.DefaultModel = "gpt-4o"
	require.NoError(t, Save(cfg, path))
	assert.True(t, Exists(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.General.DefaultDays)
	assert.Equal(t, "gpt-4o", loaded.Models.DefaultModel)
	assert.Equal(t, 3.0, loaded.Models.Catalog["claude-3.5-sonnet"].Pricing.InputTokensPerMillion)
}
