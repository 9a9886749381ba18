package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

// RenderStatusBar renders the bottom status bar. lastErr, when set, replaces
// the data age on the right.
func RenderStatusBar(width int, dataAge string, refreshing bool, lastErr string) string {
	t := theme.Active

	style := lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Background(t.Surface).
		Width(width)

	errStyle := lipgloss.NewStyle().
		Foreground(t.Red).
		Background(t.Surface)

	left := " [?]help  [r]efresh  [q]uit"
	right := ""
	switch {
	case lastErr != "":
		right = errStyle.Render(truncate(lastErr, width/2)) + " "
	case refreshing:
		right = "refreshing… "
	case dataAge != "":
		right = fmt.Sprintf("Loaded in %s ", dataAge)
	}

	padding := width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 0 {
		padding = 0
	}

	return style.Render(left + strings.Repeat(" ", padding) + right)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if limit < 2 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
