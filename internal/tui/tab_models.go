package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatmeter/internal/analytics"
	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/tui/components"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

func (a App) renderModelsTab(cw int) string {
	t := theme.Active
	header := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	row := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	best := lipgloss.NewStyle().Foreground(t.Green).Background(t.Surface)
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	models := a.data.report.Models
	if len(models) == 0 {
		return components.ContentCard("Model Efficiency", muted.Render("No sessions in this window."), cw)
	}

	nameW := components.CardInnerWidth(cw) - 60
	if nameW < 16 {
		nameW = 16
	}
	lines := []string{header.Render(fmt.Sprintf("%-*s %8s %9s %10s %12s %8s",
		nameW, "Model", "Sessions", "Messages", "Cost", "Cost/Msg", "Share"))}
	for _, m := range models {
		style := row
		if m.Model == a.data.report.MostEfficient {
			style = best
		}
		lines = append(lines, style.Render(fmt.Sprintf("%-*s %8d %9d %10s %12s %8s",
			nameW, truncStr(m.Model, nameW),
			m.Sessions,
			m.Messages,
			cli.FormatCost(m.TotalCost),
			cli.FormatCost(m.CostPerMessage),
			cli.FormatPercent(m.SharePercent),
		)))
	}

	var b strings.Builder
	b.WriteString(components.ContentCard("Model Efficiency (cheapest per token first)", strings.Join(lines, "\n"), cw))
	b.WriteString("\n")
	b.WriteString(components.ContentCard("Recommendations", a.renderRecommendations(components.CardInnerWidth(cw)), cw))
	return b.String()
}

func (a App) renderCompareTab(cw int) string {
	t := theme.Active
	header := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	row := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	lines := []string{header.Render(fmt.Sprintf("%-22s %-10s %9s %9s %6s %12s %10s",
		"Model", "Provider", "In/M", "Out/M", "Msgs", "Session", "Cost/M"))}
	for _, r := range a.data.comparison {
		style := row
		if a.source == analytics.SourceHistorical && !r.Historical {
			style = dim
		}
		lines = append(lines, style.Render(fmt.Sprintf("%-22s %-10s %9s %9s %6s %12s %10s",
			truncStr(r.Model, 22),
			truncStr(r.Provider, 10),
			cli.FormatUSD(r.InputRate, 2),
			cli.FormatUSD(r.OutputRate, 2),
			r.MessagesPerSession.StringFixed(1),
			cli.FormatUSD(r.SessionCost, 6),
			cli.FormatUSD(r.CostPerMillion, 2),
		)))
	}

	title := "Cost Comparison (assumed usage)"
	if a.source == analytics.SourceHistorical {
		title = "Cost Comparison (your averages; dimmed models have no history)"
	}
	return components.ContentCard(title, strings.Join(lines, "\n"), cw) + "\n" +
		dim.Render("  [a] toggle assumed / historical")
}
