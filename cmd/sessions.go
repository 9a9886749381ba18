package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/pipeline"
	"github.com/theirongolddev/chatmeter/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Recent sessions with cost and token totals",
	RunE:  runSessions,
}

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "One session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

var (
	sessionsLimit int
	sessionsModel string
)

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Number of sessions to show")
	sessionsCmd.Flags().StringVarP(&sessionsModel, "model", "m", "", "Filter to model (substring match)")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessions(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	days := a.days()
	sessions, err := a.usage.Sessions(ctx, days)
	if err != nil {
		return err
	}
	if sessionsModel != "" {
		sessions = pipeline.FilterByModel(sessions, sessionsModel)
	}
	if len(sessions) == 0 {
		fmt.Println("\n  No sessions in the selected time range.")
		return nil
	}

	total := len(sessions)
	if sessionsLimit > 0 && len(sessions) > sessionsLimit {
		sessions = sessions[:sessionsLimit]
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("SESSIONS  Last %dd (showing %d of %d)", days, len(sessions), total)))
	fmt.Println()

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.StartTime.Local().Format("Jan 02 15:04"),
			s.SessionID,
			truncate(s.Model, 20),
			cli.FormatSessionDuration(s.StartTime, s.EndTime),
			formatNumber(int64(s.TotalMessages)),
			cli.FormatTokens(s.TotalTokens()),
			cli.FormatCost(s.TotalCost),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Start", "Session", "Model", "Duration", "Msgs", "Tokens", "Cost"},
		Rows:     rows,
		LeftCols: 3,
	}))

	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	detail, err := a.usage.SessionDetail(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session %q not found", args[0])
	}
	if err != nil {
		return err
	}

	s := detail.Session
	fmt.Println()
	fmt.Println(cli.RenderTitle("SESSION  " + s.SessionID))
	fmt.Println()

	end := "open"
	if s.EndTime != nil {
		end = s.EndTime.Local().Format("2006-01-02 15:04:05")
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Field", "Value"},
		Rows: [][]string{
			{"Model", s.Model},
			{"Started", s.StartTime.Local().Format("2006-01-02 15:04:05")},
			{"Ended", end},
			{"Duration", cli.FormatSessionDuration(s.StartTime, s.EndTime)},
			{"Messages", formatNumber(int64(s.TotalMessages))},
			{"Input tokens", formatNumber(s.TotalInputTokens)},
			{"Output tokens", formatNumber(s.TotalOutputTokens)},
			{"Total cost", cli.FormatCost(s.TotalCost)},
		},
		LeftCols: 2,
	}))

	if len(detail.Messages) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		rows = append(rows, []string{
			m.Timestamp.Local().Format("15:04:05"),
			string(m.Role),
			truncate(m.ContentExcerpt, 48),
			formatNumber(m.InputTokens),
			formatNumber(m.OutputTokens),
			cli.FormatCost(m.Cost),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:    "Messages",
		Headers:  []string{"Time", "Role", "Excerpt", "In", "Out", "Cost"},
		Rows:     rows,
		LeftCols: 3,
	}))
	return nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
