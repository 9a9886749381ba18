package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ModelPricing holds per-million-token prices and metadata for a model.
type ModelPricing struct {
	ID            string
	Name          string
	Provider      string
	UpstreamID    string
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
	Capabilities  []string
	Available     bool
}

// Upstream returns the id sent to the provider.
func (p ModelPricing) Upstream() string {
	if p.UpstreamID != "" {
		return p.UpstreamID
	}
	return p.ID
}

// FallbackModelID is the single entry used when the catalog cannot be loaded.
const FallbackModelID = "gpt-4o-mini"

// FallbackPricing is the built-in entry that backs a broken catalog.
var FallbackPricing = ModelPricing{
	ID:            FallbackModelID,
	Name:          "GPT-4o Mini",
	Provider:      "OpenAI",
	UpstreamID:    "openai/gpt-4o-mini",
	InputPerMTok:  decimal.RequireFromString("0.15"),
	OutputPerMTok: decimal.RequireFromString("0.60"),
	Capabilities:  []string{"fast", "writing"},
	Available:     true,
}

// ConfigurationError reports a missing or unusable model catalog.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("model configuration: %v", e.Err)
	}
	return fmt.Sprintf("model configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PricingTable maps model ids to pricing. Immutable once built.
type PricingTable struct {
	models       map[string]ModelPricing
	defaultModel string
}

// NewPricingTable builds a table from entries. An unknown or unavailable
// defaultModel is replaced by the first available id in sorted order.
func NewPricingTable(entries []ModelPricing, defaultModel string) *PricingTable {
	t := &PricingTable{models: make(map[string]ModelPricing, len(entries))}
	for _, e := range entries {
		t.models[e.ID] = e
	}
	if p, ok := t.models[defaultModel]; ok && p.Available {
		t.defaultModel = defaultModel
	} else if avail := t.Available(); len(avail) > 0 {
		t.defaultModel = avail[0].ID
	}
	return t
}

// FallbackTable returns a table holding only FallbackPricing.
func FallbackTable() *PricingTable {
	return NewPricingTable([]ModelPricing{FallbackPricing}, FallbackModelID)
}

// LoadPricing builds the pricing table from the models file, or from the
// inline catalog when no file is set. On any problem it returns the fallback
// table together with a *ConfigurationError; the table is always usable.
func LoadPricing(mc ModelsConfig) (*PricingTable, error) {
	catalog, defaultModel := mc.Catalog, mc.DefaultModel
	if mc.File != "" {
		doc, err := readModelsFile(mc.File)
		if err != nil {
			return FallbackTable(), &ConfigurationError{Path: mc.File, Err: err}
		}
		catalog = doc.Models
		if doc.DefaultModel != "" {
			defaultModel = doc.DefaultModel
		}
	}

	entries, err := catalogEntries(catalog)
	if err != nil {
		return FallbackTable(), &ConfigurationError{Path: mc.File, Err: err}
	}
	return NewPricingTable(entries, defaultModel), nil
}

// maxRateDecimals keeps per-token costs within the store's money scale.
const maxRateDecimals = 6

func catalogEntries(catalog map[string]ModelEntry) ([]ModelPricing, error) {
	if len(catalog) == 0 {
		return nil, errors.New("no models defined")
	}

	entries := make([]ModelPricing, 0, len(catalog))
	for id, e := range catalog {
		if id == "" {
			return nil, errors.New("model with empty id")
		}
		if e.Pricing.InputTokensPerMillion < 0 || e.Pricing.OutputTokensPerMillion < 0 {
			return nil, fmt.Errorf("model %s: negative rate", id)
		}
		in := decimal.NewFromFloat(e.Pricing.InputTokensPerMillion)
		out := decimal.NewFromFloat(e.Pricing.OutputTokensPerMillion)
		if !in.Equal(in.Truncate(maxRateDecimals)) || !out.Equal(out.Truncate(maxRateDecimals)) {
			return nil, fmt.Errorf("model %s: rate has more than %d decimal places", id, maxRateDecimals)
		}
		name := e.Name
		if name == "" {
			name = id
		}
		entries = append(entries, ModelPricing{
			ID:            id,
			Name:          name,
			Provider:      e.Provider,
			UpstreamID:    e.UpstreamID,
			InputPerMTok:  in,
			OutputPerMTok: out,
			Capabilities:  e.Capabilities,
			Available:     e.IsAvailable(),
		})
	}
	return entries, nil
}

// DefaultModel returns the designated default model id.
func (t *PricingTable) DefaultModel() string {
	return t.defaultModel
}

// Lookup returns the pricing for a model, normalizing the id first.
// Returns zero pricing and false if the model is unknown.
func (t *PricingTable) Lookup(model string) (ModelPricing, bool) {
	if p, ok := t.models[model]; ok {
		return p, true
	}
	p, ok := t.models[t.normalize(model)]
	return p, ok
}

// Models returns every entry sorted by id.
func (t *PricingTable) Models() []ModelPricing {
	out := make([]ModelPricing, 0, len(t.models))
	for _, p := range t.models {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Available returns the available entries sorted by id.
func (t *PricingTable) Available() []ModelPricing {
	all := t.Models()
	out := all[:0]
	for _, p := range all {
		if p.Available {
			out = append(out, p)
		}
	}
	return out
}

// normalize maps upstream and dated ids onto catalog ids.
// e.g., "anthropic/claude-3-haiku-20240307" -> "claude-3-haiku"
func (t *PricingTable) normalize(raw string) string {
	for _, p := range t.models {
		if p.UpstreamID != "" && p.UpstreamID == raw {
			return p.ID
		}
	}

	id := raw
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if _, ok := t.models[id]; ok {
		return id
	}

	// Strip a trailing date: -20240307 or -2024-03-07
	parts := strings.Split(id, "-")
	if n := len(parts); n >= 2 && isAllDigits(parts[n-1]) && len(parts[n-1]) >= 8 {
		return strings.Join(parts[:n-1], "-")
	}
	if n := len(parts); n >= 4 && isAllDigits(parts[n-3]) && len(parts[n-3]) == 4 &&
		isAllDigits(parts[n-2]) && isAllDigits(parts[n-1]) {
		return strings.Join(parts[:n-3], "-")
	}
	return id
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
