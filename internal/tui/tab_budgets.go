package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/tui/components"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

func (a App) renderBudgetsTab(cw int) string {
	t := theme.Active
	inner := components.CardInnerWidth(cw)
	barW := inner - 8 - 30
	if barW < 10 {
		barW = 10
	}

	bars := make([]string, 0, len(a.data.statuses))
	for _, st := range a.data.statuses {
		bars = append(bars, components.BudgetBar(st, 8, barW))
	}

	var b strings.Builder
	b.WriteString(components.ContentCard("Budgets", strings.Join(bars, "\n"), cw))
	b.WriteString("\n")

	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	var alertLines []string
	for _, al := range a.data.alerts {
		color := t.Orange
		if al.Severity == "critical" {
			color = t.Red
		}
		sev := lipgloss.NewStyle().Foreground(color).Background(t.Surface).Bold(true)
		alertLines = append(alertLines, sev.Render(strings.ToUpper(al.Severity))+muted.Render("  "+al.Message))
	}
	if len(alertLines) == 0 {
		alertLines = append(alertLines, muted.Render("No budget alerts."))
	}
	b.WriteString(components.ContentCard("Alerts", strings.Join(alertLines, "\n"), cw))

	if !a.hasBudget() {
		b.WriteString("\n")
		b.WriteString(muted.Render("  Set one with: chatmeter budget set daily 5"))
	}
	return b.String()
}

func (a App) hasBudget() bool {
	for _, st := range a.data.statuses {
		if st.State != model.StateNoBudget {
			return true
		}
	}
	return false
}
