package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/config"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

// SetupValues holds the answers collected by the setup wizard.
type SetupValues struct {
	APIKey       string
	DefaultModel string
	Days         int
	DailyBudget  string
	Theme        string
}

// SetupValuesFrom seeds the wizard from an existing config.
func SetupValuesFrom(cfg config.Config) SetupValues {
	return SetupValues{
		DefaultModel: cfg.Models.DefaultModel,
		Days:         cfg.General.DefaultDays,
		Theme:        cfg.Appearance.Theme,
	}
}

// NewSetupForm builds the first-run wizard over the available models.
func NewSetupForm(vals *SetupValues, models []config.ModelPricing) *huh.Form {
	modelOpts := make([]huh.Option[string], 0, len(models))
	for _, m := range models {
		label := m.Name + "  (" + m.Provider + ", $" + m.InputPerMTok.StringFixed(2) + " / $" + m.OutputPerMTok.StringFixed(2) + " per M)"
		modelOpts = append(modelOpts, huh.NewOption(label, m.ID))
	}

	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, t := range theme.All {
		themeOpts = append(themeOpts, huh.NewOption(t.Name, t.Name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to chatmeter!").
				Description("Track what every chat message costs and keep spend inside a budget."),
			huh.NewInput().
				Title("OpenRouter API key").
				Description("Leave blank to keep the current key or use OPENROUTER_API_KEY.").
				EchoMode(huh.EchoModePassword).
				Value(&vals.APIKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default model").
				Options(modelOpts...).
				Value(&vals.DefaultModel),
			huh.NewSelect[int]().
				Title("Default reporting window").
				Options(
					huh.NewOption("7 days", 7),
					huh.NewOption("30 days", 30),
					huh.NewOption("90 days", 90),
				).
				Value(&vals.Days),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Daily budget (USD)").
				Description("Blank skips budget setup.").
				Placeholder("5.00").
				Validate(validateBudget).
				Value(&vals.DailyBudget),
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&vals.Theme),
		),
	).WithShowHelp(false)
}

func validateBudget(s string) error {
	_, _, err := parseBudget(s)
	return err
}

func parseBudget(s string) (decimal.Decimal, bool, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, errors.New("enter an amount like 5 or 2.50")
	}
	if !d.IsPositive() {
		return decimal.Zero, false, errors.New("budget must be greater than zero")
	}
	return d, true, nil
}

// Budget returns the requested daily limit, if one was entered.
func (v SetupValues) Budget() (decimal.Decimal, bool, error) {
	return parseBudget(v.DailyBudget)
}

// Apply writes the answers into cfg. Blank answers keep existing values.
func (v SetupValues) Apply(cfg *config.Config) {
	if key := strings.TrimSpace(v.APIKey); key != "" {
		cfg.Provider.APIKey = key
	}
	if v.DefaultModel != "" {
		cfg.Models.DefaultModel = v.DefaultModel
	}
	if v.Days > 0 {
		cfg.General.DefaultDays = v.Days
	}
	if v.Theme != "" {
		cfg.Appearance.Theme = theme.ByName(v.Theme).Name
	}
}
