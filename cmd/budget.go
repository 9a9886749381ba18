package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatmeter/internal/budget"
	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/model"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage daily, monthly and total budgets",
	RunE:  runBudgetStatus,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <daily|monthly|total> <amount>",
	Short: "Create a budget, replacing any active one of the same type",
	Args:  cobra.ExactArgs(2),
	RunE:  runBudgetSet,
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status [type]",
	Short: "Show budget usage",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBudgetStatus,
}

var budgetSpendCmd = &cobra.Command{
	Use:   "spend <type> <amount>",
	Short: "Record spend against a budget by hand",
	Args:  cobra.ExactArgs(2),
	RunE:  runBudgetSpend,
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset <type>",
	Short: "Zero a budget's spend and restart its period",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetReset,
}

var budgetLimitCmd = &cobra.Command{
	Use:   "limit <type> <amount>",
	Short: "Change a budget's limit, keeping its spend",
	Args:  cobra.ExactArgs(2),
	RunE:  runBudgetLimit,
}

var budgetRemoveCmd = &cobra.Command{
	Use:   "remove <type>",
	Short: "Deactivate a budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetRemove,
}

var budgetProjectCmd = &cobra.Command{
	Use:   "project [type]",
	Short: "Project spend from the trailing week",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBudgetProject,
}

var budgetAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List budgets in warning or exceeded state",
	RunE:  runBudgetAlerts,
}

var budgetSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Spending summary for the window",
	RunE:  runBudgetSummary,
}

var budgetProjectDays int

func init() {
	budgetProjectCmd.Flags().IntVar(&budgetProjectDays, "ahead", 0, "Days to project (default 7)")

	budgetCmd.AddCommand(budgetSetCmd, budgetStatusCmd, budgetSpendCmd, budgetResetCmd,
		budgetLimitCmd, budgetRemoveCmd, budgetProjectCmd, budgetAlertsCmd, budgetSummaryCmd)
	rootCmd.AddCommand(budgetCmd)
}

func parseBudgetType(s string) (model.BudgetType, error) {
	bt := model.BudgetType(strings.ToLower(strings.TrimSpace(s)))
	if !bt.Valid() {
		return "", fmt.Errorf("unknown budget type %q (want daily, monthly or total)", s)
	}
	return bt, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// budgetArgs parses a <type> <amount> pair.
func budgetArgs(args []string) (model.BudgetType, decimal.Decimal, error) {
	bt, err := parseBudgetType(args[0])
	if err != nil {
		return "", decimal.Zero, err
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return "", decimal.Zero, err
	}
	return bt, amount, nil
}

// explainBudgetErr maps tracker errors to command-line advice.
func explainBudgetErr(bt model.BudgetType, err error) error {
	if errors.Is(err, budget.ErrNoBudget) {
		return fmt.Errorf("no active %s budget; create one with: chatmeter budget set %s <amount>", bt, bt)
	}
	return err
}

func printBudgetStatus(st model.BudgetStatus) {
	fmt.Printf("  %-8s %s\n", st.Type, cli.RenderBudgetBar(st, 30))
	if st.State == model.StateNoBudget {
		return
	}
	fmt.Printf("           %s of %s spent, %s left  %s\n",
		cli.FormatUSD(st.Spent, 2),
		cli.FormatUSD(st.Limit, 2),
		cli.FormatUSD(st.Remaining, 2),
		cli.RenderState(st.State))
	if st.Type != model.BudgetTotal && !st.ResetDate.IsZero() {
		fmt.Printf("           period started %s\n", st.ResetDate.Format("2006-01-02"))
	}
}

func runBudgetSet(cmd *cobra.Command, args []string) error {
	bt, limit, err := budgetArgs(args)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	st, err := a.budgets.Create(ctx, bt, limit)
	if err != nil {
		return err
	}
	fmt.Printf("\n  Set %s budget to %s\n\n", bt, cli.FormatUSD(limit, 2))
	printBudgetStatus(st)
	fmt.Println()
	return nil
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	types := model.BudgetTypes
	if len(args) == 1 {
		bt, err := parseBudgetType(args[0])
		if err != nil {
			return err
		}
		types = []model.BudgetType{bt}
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	fmt.Println()
	fmt.Println(cli.RenderTitle("BUDGETS"))
	fmt.Println()

	active := false
	for _, bt := range types {
		st, err := a.budgets.Status(ctx, bt)
		if err != nil {
			return err
		}
		if st.State != model.StateNoBudget {
			active = true
		}
		printBudgetStatus(st)
	}
	if !active {
		fmt.Println()
		fmt.Println(cli.RenderNotice("Set one with: chatmeter budget set daily 5"))
	}
	fmt.Println()
	return nil
}

func runBudgetSpend(cmd *cobra.Command, args []string) error {
	bt, amount, err := budgetArgs(args)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	st, err := a.budgets.ApplySpend(ctx, bt, amount)
	if err != nil {
		return explainBudgetErr(bt, err)
	}
	fmt.Printf("\n  Added %s to the %s budget\n\n", cli.FormatUSD(amount, 4), bt)
	printBudgetStatus(st)
	if st.State == model.StateWarning || st.State == model.StateExceeded {
		fmt.Println(cli.RenderWarning(st.Message))
	}
	fmt.Println()
	return nil
}

func runBudgetReset(cmd *cobra.Command, args []string) error {
	bt, err := parseBudgetType(args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	st, err := a.budgets.Reset(ctx, bt)
	if err != nil {
		return explainBudgetErr(bt, err)
	}
	fmt.Printf("\n  Reset the %s budget\n\n", bt)
	printBudgetStatus(st)
	fmt.Println()
	return nil
}

func runBudgetLimit(cmd *cobra.Command, args []string) error {
	bt, limit, err := budgetArgs(args)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	st, err := a.budgets.UpdateLimit(ctx, bt, limit)
	if err != nil {
		return explainBudgetErr(bt, err)
	}
	fmt.Printf("\n  Changed the %s limit to %s\n\n", bt, cli.FormatUSD(limit, 2))
	printBudgetStatus(st)
	fmt.Println()
	return nil
}

func runBudgetRemove(cmd *cobra.Command, args []string) error {
	bt, err := parseBudgetType(args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	if err := a.budgets.Remove(ctx, bt); err != nil {
		return explainBudgetErr(bt, err)
	}
	fmt.Printf("\n  Removed the %s budget\n\n", bt)
	return nil
}

func runBudgetProject(cmd *cobra.Command, args []string) error {
	types := model.BudgetTypes
	if len(args) == 1 {
		bt, err := parseBudgetType(args[0])
		if err != nil {
			return err
		}
		types = []model.BudgetType{bt}
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	rows := make([][]string, 0, len(types))
	for _, bt := range types {
		p, err := a.budgets.Project(ctx, bt, budgetProjectDays)
		if err != nil {
			return err
		}
		limit, verdict := "-", "-"
		if p.HasBudget {
			limit = cli.FormatUSD(p.Limit, 2)
			verdict = cli.StateStyle(model.StateWithinLimit).Render("ok")
			if p.WillExceed {
				verdict = cli.StateStyle(model.StateExceeded).Render("over")
			}
		}
		rows = append(rows, []string{
			string(bt),
			strconv.Itoa(p.DaysAhead) + "d",
			cli.FormatUSD(p.AvgDaily, 4),
			cli.FormatUSD(p.Projected, 2),
			limit,
			verdict,
			fmt.Sprintf("%s (%d days)", p.Confidence, p.DataDays),
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("PROJECTION  trailing 7d average"))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Budget", "Ahead", "Avg/day", "Projected", "Limit", "Outlook", "Confidence"},
		Rows:    rows,
	}))
	return nil
}

func runBudgetAlerts(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	alerts, err := a.budgets.Alerts(ctx)
	if err != nil {
		return err
	}
	fmt.Println()
	if len(alerts) == 0 {
		fmt.Println(cli.RenderNotice("No budget alerts."))
		fmt.Println()
		return nil
	}
	for _, al := range alerts {
		fmt.Printf("  %s  %s\n", cli.StateStyle(al.Status.State).Render(strings.ToUpper(al.Severity)), al.Message)
	}
	fmt.Println()
	return nil
}

func runBudgetSummary(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.storeContext(cmd.Context())
	defer cancel()

	sum, err := a.budgets.SpendingSummary(ctx, a.days())
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("SPENDING  Last %dd", sum.Days)))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Sessions", formatNumber(int64(sum.Sessions))},
			{"Total spent", cli.FormatCost(sum.TotalSpent)},
			{"Daily average", cli.FormatCost(sum.DailyAverage)},
			{"Projected 30d", cli.FormatCost(sum.ProjectedMonthly)},
		},
	}))
	printBudgetStatus(sum.Daily)
	printBudgetStatus(sum.Monthly)
	fmt.Println()
	return nil
}
