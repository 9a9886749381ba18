package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/tui/components"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

func (a App) renderSessionsTab(cw, h int) string {
	t := theme.Active
	sessions := a.data.sessions
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	if len(sessions) == 0 {
		return components.ContentCard("Sessions", muted.Render("No sessions in this window."), cw)
	}

	halves := components.LayoutRow(cw, 2)
	listH := h - 3
	if listH < 3 {
		listH = 3
	}

	// Keep the cursor visible.
	offset := 0
	if a.cursor >= listH {
		offset = a.cursor - listH + 1
	}
	end := offset + listH
	if end > len(sessions) {
		end = len(sessions)
	}

	row := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	sel := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.SurfaceHover).Bold(true)
	innerW := components.CardInnerWidth(halves[0])

	var lines []string
	for i := offset; i < end; i++ {
		s := sessions[i]
		line := fmt.Sprintf("%s  %-16s %9s",
			s.StartTime.Local().Format("Jan 02 15:04"),
			truncStr(s.Model, 16),
			cli.FormatCost(s.TotalCost))
		line = truncStr(line, innerW)
		if i == a.cursor {
			lines = append(lines, sel.Width(innerW).Render(line))
		} else {
			lines = append(lines, row.Render(line))
		}
	}

	title := fmt.Sprintf("Sessions [%d/%d]", a.cursor+1, len(sessions))
	return components.CardRow([]string{
		components.ContentCard(title, strings.Join(lines, "\n"), halves[0]),
		components.ContentCard("Detail", renderSessionDetail(sessions[a.cursor]), halves[1]),
	})
}

func renderSessionDetail(s model.Session) string {
	t := theme.Active
	label := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)

	avg := s.TotalCost
	if s.TotalMessages > 0 {
		avg = s.TotalCost.Div(decimal.NewFromInt(int64(s.TotalMessages)))
	}

	rows := []struct{ k, v string }{
		{"ID", s.SessionID},
		{"Model", s.Model},
		{"Started", s.StartTime.Local().Format("2006-01-02 15:04:05")},
		{"Duration", cli.FormatSessionDuration(s.StartTime, s.EndTime)},
		{"Messages", cli.FormatNumber(int64(s.TotalMessages))},
		{"Input tokens", cli.FormatNumber(s.TotalInputTokens)},
		{"Output tokens", cli.FormatNumber(s.TotalOutputTokens)},
		{"Cost", cli.FormatCost(s.TotalCost)},
		{"Avg / message", cli.FormatCost(avg)},
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, label.Render(fmt.Sprintf("%-14s ", r.k))+value.Render(r.v))
	}
	return strings.Join(lines, "\n")
}
