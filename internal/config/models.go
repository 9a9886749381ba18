package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ModelsConfig points at the model catalog.
type ModelsConfig struct {
	File         string                `toml:"file,omitempty" env:"CHATMETER_MODELS_FILE"`
	DefaultModel string                `toml:"default_model" env:"CHATMETER_DEFAULT_MODEL"`
	Catalog      map[string]ModelEntry `toml:"catalog,omitempty"`
}

// ModelEntry is one model in a catalog document.
type ModelEntry struct {
	Name         string       `toml:"name" json:"name" yaml:"name"`
	Provider     string       `toml:"provider" json:"provider" yaml:"provider"`
	UpstreamID   string       `toml:"upstream_id,omitempty" json:"upstream_id,omitempty" yaml:"upstream_id,omitempty"`
	Pricing      EntryPricing `toml:"pricing" json:"pricing" yaml:"pricing"`
	Capabilities []string     `toml:"capabilities,omitempty" json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Available    *bool        `toml:"available,omitempty" json:"available,omitempty" yaml:"available,omitempty"`
}

// EntryPricing holds per-million-token rates as written in a catalog.
type EntryPricing struct {
	InputTokensPerMillion  float64 `toml:"input_tokens_per_million" json:"input_tokens_per_million" yaml:"input_tokens_per_million"`
	OutputTokensPerMillion float64 `toml:"output_tokens_per_million" json:"output_tokens_per_million" yaml:"output_tokens_per_million"`
}

// IsAvailable reports whether the entry may be used. Unset means available.
func (e ModelEntry) IsAvailable() bool {
	return e.Available == nil || *e.Available
}

// modelsDocument is the standalone models file layout.
type modelsDocument struct {
	Models       map[string]ModelEntry `toml:"models" json:"models" yaml:"models"`
	DefaultModel string                `toml:"default_model" json:"default_model" yaml:"default_model"`
}

// DefaultCatalog returns the built-in model catalog shipped in DefaultConfig.
func DefaultCatalog() map[string]ModelEntry {
	return map[string]ModelEntry{
		"claude-3.5-sonnet": {
			Name: "Claude 3.5 Sonnet", Provider: "Anthropic", UpstreamID: "anthropic/claude-3.5-sonnet",
			Pricing:      EntryPricing{InputTokensPerMillion: 3.00, OutputTokensPerMillion: 15.00},
			Capabilities: []string{"reasoning", "writing", "analysis"},
		},
		"claude-3-opus": {
			Name: "Claude 3 Opus", Provider: "Anthropic", UpstreamID: "anthropic/claude-3-opus",
			Pricing:      EntryPricing{InputTokensPerMillion: 15.00, OutputTokensPerMillion: 75.00},
			Capabilities: []string{"reasoning", "writing", "analysis"},
		},
		"claude-3-haiku": {
			Name: "Claude 3 Haiku", Provider: "Anthropic", UpstreamID: "anthropic/claude-3-haiku",
			Pricing:      EntryPricing{InputTokensPerMillion: 0.25, OutputTokensPerMillion: 1.25},
			Capabilities: []string{"fast", "writing"},
		},
		"gpt-4o": {
			Name: "GPT-4o", Provider: "OpenAI", UpstreamID: "openai/gpt-4o",
			Pricing:      EntryPricing{InputTokensPerMillion: 2.50, OutputTokensPerMillion: 10.00},
			Capabilities: []string{"reasoning", "writing", "vision"},
		},
		"gpt-4o-mini": {
			Name: "GPT-4o Mini", Provider: "OpenAI", UpstreamID: "openai/gpt-4o-mini",
			Pricing:      EntryPricing{InputTokensPerMillion: 0.15, OutputTokensPerMillion: 0.60},
			Capabilities: []string{"fast", "writing"},
		},
		"llama-3.1-405b": {
			Name: "Llama 3.1 405B", Provider: "Meta", UpstreamID: "meta-llama/llama-3.1-405b-instruct",
			Pricing:      EntryPricing{InputTokensPerMillion: 3.00, OutputTokensPerMillion: 3.00},
			Capabilities: []string{"reasoning", "open-weights"},
		},
	}
}

// readModelsFile decodes a catalog document by file extension.
func readModelsFile(path string) (modelsDocument, error) {
	var doc modelsDocument

	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	case ".json", "":
		err = json.Unmarshal(data, &doc)
	default:
		return doc, fmt.Errorf("unsupported models file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return doc, fmt.Errorf("decoding models file: %w", err)
	}
	return doc, nil
}
