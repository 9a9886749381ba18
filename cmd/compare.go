package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/analytics"
	"github.com/theirongolddev/chatmeter/internal/cli"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "What a typical session would cost on every available model",
	RunE:  runCompare,
}

var compareAssumed bool

func init() {
	compareCmd.Flags().BoolVar(&compareAssumed, "assumed", false, "Use configured usage assumptions instead of history")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	source := analytics.SourceHistorical
	if compareAssumed {
		source = analytics.SourceAssumed
	}
	days := a.days()
	rows, err := a.usage.CostComparison(ctx, source, days)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("MODEL COMPARISON  %s usage, last %dd", source, days)
	if source == analytics.SourceAssumed {
		title = "MODEL COMPARISON  assumed usage"
	}
	fmt.Println()
	fmt.Println(cli.RenderTitle(title))
	fmt.Println()

	out := make([][]string, 0, len(rows))
	noHistory := 0
	for _, r := range rows {
		name := r.Name
		if source == analytics.SourceHistorical && !r.Historical {
			name += " ~"
			noHistory++
		}
		out = append(out, []string{
			name,
			r.Provider,
			cli.FormatRate(r.InputRate),
			cli.FormatRate(r.OutputRate),
			r.MessagesPerSession.StringFixed(1),
			r.InputTokensPerMessage.StringFixed(0) + " / " + r.OutputTokensPerMessage.StringFixed(0),
			cli.FormatUSD(r.SessionCost, 4),
			cli.FormatUSD(r.CostPerMillion, 2),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Model", "Provider", "Input", "Output", "Msgs/Session", "Tokens In/Out", "Per Session", "Per 1M"},
		Rows:     out,
		LeftCols: 2,
	}))
	if noHistory > 0 {
		fmt.Println(cli.RenderNotice("~ no sessions in the window; usage figures are zero"))
		fmt.Println()
	}
	return nil
}
