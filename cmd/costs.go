package cmd

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/pipeline"
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Cost summary and breakdown by model",
	RunE:  runCosts,
}

func init() {
	rootCmd.AddCommand(costsCmd)
}

func runCosts(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	days := a.days()

	// Two windows back so the previous period can be compared.
	sessions, err := a.usage.Sessions(ctx, 2*days)
	if err != nil {
		return err
	}

	until := time.Now()
	since := until.AddDate(0, 0, -days)
	stats := pipeline.Aggregate(sessions, since, until)
	if stats.TotalSessions == 0 {
		fmt.Println("\n  No sessions in the selected time range.")
		return nil
	}
	prevStats := pipeline.Aggregate(sessions, since.AddDate(0, 0, -days), since)
	split, modelCosts := pipeline.AggregateCostBreakdown(sessions, since, until, a.calc)

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("COSTS  Last %dd", days)))
	fmt.Println()

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Summary",
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Sessions", formatNumber(int64(stats.TotalSessions))},
			{"Messages", formatNumber(int64(stats.TotalMessages))},
			{"Tokens", cli.FormatTokens(stats.TotalTokens)},
			{"Active days", formatNumber(int64(stats.ActiveDays))},
			{"---"},
			{"Total cost", cli.FormatCost(stats.TotalCost)},
			{"Per session", cli.FormatCost(stats.CostPerSession)},
			{"Per message", cli.FormatCost(stats.CostPerMessage)},
			{"Per 1K tokens", cli.FormatCost(stats.CostPerToken.Mul(decimal.NewFromInt(1000)))},
		},
	}))

	if prevStats.TotalCost.IsPositive() {
		curr := stats.TotalCost.InexactFloat64()
		prev := prevStats.TotalCost.InexactFloat64()
		maxCost := curr
		if prev > maxCost {
			maxCost = prev
		}
		fmt.Printf("  Period Comparison  %s\n", cli.FormatDelta(stats.TotalCost, prevStats.TotalCost))
		fmt.Printf("  This %dd %s  %s\n",
			days, cli.RenderHorizontalBar("", curr, maxCost, 30), cli.FormatCost(stats.TotalCost))
		fmt.Printf("  Prev %dd %s  %s\n\n",
			days, cli.RenderHorizontalBar("", prev, maxCost, 30), cli.FormatCost(prevStats.TotalCost))
	}

	rows := make([][]string, 0, len(modelCosts)+2)
	for _, mc := range modelCosts {
		rows = append(rows, []string{
			mc.Model,
			cli.FormatCost(mc.InputCost),
			cli.FormatCost(mc.OutputCost),
			cli.FormatCost(mc.TotalCost),
			cli.FormatCost(mc.RecordedCost),
		})
	}
	rows = append(rows, []string{"---"})
	rows = append(rows, []string{
		"TOTAL",
		cli.FormatCost(split.InputCost),
		cli.FormatCost(split.OutputCost),
		cli.FormatCost(split.TotalCost),
		cli.FormatCost(split.RecordedCost),
	})

	fmt.Print(cli.RenderTable(cli.Table{
		Title:    "By Model (current rates)",
		Headers:  []string{"Model", "Input", "Output", "Repriced", "Recorded"},
		Rows:     rows,
		LeftCols: 1,
	}))

	return nil
}
