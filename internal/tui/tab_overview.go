package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/tui/components"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

func (a App) renderOverviewTab(cw int) string {
	t := theme.Active
	sum := a.data.report.Summary
	spend := a.data.spending
	var b strings.Builder

	b.WriteString(components.MetricCardRow([]components.Metric{
		{Label: "Cost", Value: cli.FormatCost(sum.TotalCost), Delta: cli.FormatCost(spend.DailyAverage) + "/day", Color: t.AccentBright},
		{Label: "Sessions", Value: cli.FormatNumber(int64(sum.TotalSessions)), Delta: cli.FormatCost(sum.CostPerSession) + "/session"},
		{Label: "Messages", Value: cli.FormatNumber(int64(sum.TotalMessages)), Delta: cli.FormatCost(sum.CostPerMessage) + "/message"},
		{Label: "Tokens", Value: cli.FormatTokens(sum.TotalTokens), Delta: fmt.Sprintf("%d active days", sum.ActiveDays)},
	}, cw))
	b.WriteString("\n")

	// Daily cost sparkline, oldest left.
	if n := len(a.data.daily); n > 0 {
		vals := make([]float64, n)
		for i, d := range a.data.daily {
			vals[n-1-i] = d.Cost.InexactFloat64()
		}
		if inner := components.CardInnerWidth(cw); len(vals) > inner {
			vals = vals[len(vals)-inner:]
		}
		oldest := a.data.daily[n-1].Date.Format("Jan 2")
		newest := a.data.daily[0].Date.Format("Jan 2")
		dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
		body := components.Sparkline(vals, t.Blue) + "\n" +
			dim.Render(fmt.Sprintf("%s → %s", oldest, newest))
		b.WriteString(components.ContentCard(fmt.Sprintf("Daily Cost (%dd)", a.opts.Days), body, cw))
		b.WriteString("\n")
	}

	halves := components.LayoutRow(cw, 2)
	b.WriteString(components.CardRow([]string{
		components.ContentCard("Projection", a.renderProjectionBody(), halves[0]),
		components.ContentCard("Recommendations", a.renderRecommendations(components.CardInnerWidth(halves[1])), halves[1]),
	}))
	return b.String()
}

func (a App) renderProjectionBody() string {
	t := theme.Active
	label := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	spend := a.data.spending

	lines := []string{
		label.Render("Daily average     ") + value.Render(cli.FormatCost(spend.DailyAverage)),
		label.Render("Projected monthly ") + value.Render(cli.FormatCost(spend.ProjectedMonthly)),
	}
	for _, p := range a.data.projections {
		style := value
		if p.WillExceed {
			style = lipgloss.NewStyle().Foreground(t.Red).Background(t.Surface)
		}
		lines = append(lines, label.Render(fmt.Sprintf("%-18s", string(p.Type)+" ("+p.Confidence+")"))+
			style.Render(fmt.Sprintf("%s over %dd", cli.FormatCost(p.Projected), p.DaysAhead)))
	}
	return strings.Join(lines, "\n")
}

func (a App) renderRecommendations(width int) string {
	t := theme.Active
	style := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	bullet := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface)

	var lines []string
	for _, r := range a.data.report.Recommendations {
		lines = append(lines, bullet.Render("• ")+style.Render(truncStr(r, width-2)))
	}
	return strings.Join(lines, "\n")
}
