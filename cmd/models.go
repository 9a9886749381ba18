package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/cli"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Per-model efficiency and recommendations",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	days := a.days()
	report, err := a.usage.EfficiencyReport(ctx, days)
	if err != nil {
		return err
	}
	if len(report.Models) == 0 {
		fmt.Println("\n  No sessions in the selected time range.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("MODEL EFFICIENCY  Last %dd", days)))
	fmt.Println()

	rows := make([][]string, 0, len(report.Models))
	for _, m := range report.Models {
		name := m.Model
		if m.Model == report.MostEfficient {
			name += " *"
		}
		rows = append(rows, []string{
			name,
			formatNumber(int64(m.Sessions)),
			formatNumber(int64(m.Messages)),
			cli.FormatTokens(m.TotalTokens()),
			cli.FormatCost(m.TotalCost),
			cli.FormatCost(m.CostPerSession),
			cli.FormatCost(m.CostPerMessage),
			cli.FormatPercent(m.SharePercent),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Model", "Sessions", "Msgs", "Tokens", "Cost", "Per Session", "Per Msg", "Share"},
		Rows:    rows,
	}))
	if report.MostEfficient != "" {
		fmt.Println(cli.RenderNotice("* lowest cost per token"))
		fmt.Println()
	}

	fmt.Println("  Recommendations")
	for _, r := range report.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
	fmt.Println()
	return nil
}
