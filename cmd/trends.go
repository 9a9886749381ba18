package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/cli"
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Daily usage table with model share",
	RunE:  runTrends,
}

func init() {
	rootCmd.AddCommand(trendsCmd)
}

func runTrends(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	days := a.days()
	daily, err := a.usage.DailyTrend(ctx, days)
	if err != nil {
		return err
	}
	if len(daily) == 0 {
		fmt.Println("\n  No data for the selected period.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("DAILY USAGE  Last %dd", days)))
	fmt.Println()

	// Newest first in the table, oldest first in the sparkline.
	spark := make([]float64, len(daily))
	rows := make([][]string, 0, len(daily))
	for i, d := range daily {
		spark[len(daily)-1-i] = d.Cost.InexactFloat64()
		rows = append(rows, []string{
			d.Date.Format("2006-01-02"),
			cli.FormatDayOfWeek(int(d.Date.Weekday())),
			formatNumber(int64(d.Sessions)),
			formatNumber(int64(d.Messages)),
			cli.FormatTokens(d.InputTokens + d.OutputTokens),
			cli.FormatCost(d.Cost),
		})
	}
	fmt.Printf("  %s\n\n", cli.RenderSparkline(spark))
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Date", "Day", "Sessions", "Msgs", "Tokens", "Cost"},
		Rows:     rows,
		LeftCols: 2,
	}))

	shares, err := a.usage.ModelShare(ctx, days)
	if err != nil {
		return err
	}
	if len(shares) == 0 {
		return nil
	}
	fmt.Println("  Model Share (cost)")
	for _, s := range shares {
		fmt.Printf("%s %s  %s\n",
			cli.RenderHorizontalBar(fmt.Sprintf("%-24s", truncate(s.Model, 24)), s.CostPercent, 100, 30),
			cli.FormatPercent(s.CostPercent),
			cli.FormatCost(s.Cost))
	}
	fmt.Println()
	return nil
}
