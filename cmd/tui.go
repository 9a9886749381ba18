package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/tui"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive TUI dashboard",
	RunE:  runTUI,
}

var tuiAssumed bool

func init() {
	tuiCmd.Flags().BoolVar(&tuiAssumed, "assumed", false, "Start the Compare tab on assumed usage")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	// Logs would draw over the alt screen.
	flagQuiet = true
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	theme.SetActive(a.cfg.Appearance.Theme)

	// Force TrueColor profile so all background styling produces ANSI codes
	// Without this, lipgloss may default to Ascii profile (no colors)
	lipgloss.SetColorProfile(termenv.TrueColor)

	app := tui.NewApp(a.usage, a.budgets, tui.Options{
		Days:        a.days(),
		Assumed:     tuiAssumed,
		LoadTimeout: a.cfg.Ledger.StoreTimeout() * 3,
	})
	p := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}
