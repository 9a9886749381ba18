package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

// clampRatio converts a 0-100 percentage into a 0-1 bar fill.
func clampRatio(pct float64) float64 {
	r := pct / 100
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// BudgetBar renders one budget as a labelled progress bar colored by state,
// followed by spent / limit and the percentage used.
func BudgetBar(st model.BudgetStatus, labelW, barWidth int) string {
	t := theme.Active
	color := t.StateColor(st.State)

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	valueStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	pctStyle := lipgloss.NewStyle().Foreground(color).Background(t.Surface).Bold(true)
	spaceStyle := lipgloss.NewStyle().Background(t.Surface)

	label := labelStyle.Render(fmt.Sprintf("%-*s", labelW, st.Type))
	if st.State == model.StateNoBudget {
		return label + spaceStyle.Render(" ") + labelStyle.Render(st.Message)
	}

	bar := progress.New(
		progress.WithSolidFill(string(color)),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	bar.EmptyColor = string(t.TextDim)

	return label +
		spaceStyle.Render(" ") +
		bar.ViewAs(clampRatio(st.PercentageUsed)) +
		spaceStyle.Render(" ") +
		pctStyle.Render(fmt.Sprintf("%5.1f%%", st.PercentageUsed)) +
		spaceStyle.Render("  ") +
		valueStyle.Render(cli.FormatUSD(st.Spent, 2)+" / "+cli.FormatUSD(st.Limit, 2))
}

// Sparkline renders a unicode sparkline from values.
func Sparkline(values []float64, color lipgloss.Color) string {
	if len(values) == 0 {
		return ""
	}
	blocks := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	peak := values[0]
	for _, v := range values[1:] {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		peak = 1
	}

	out := make([]rune, 0, len(values))
	for _, v := range values {
		idx := int(v / peak * float64(len(blocks)-1))
		if idx >= len(blocks) {
			idx = len(blocks) - 1
		}
		if idx < 0 {
			idx = 0
		}
		out = append(out, blocks[idx])
	}
	return lipgloss.NewStyle().Foreground(color).Background(theme.Active.Surface).Render(string(out))
}
