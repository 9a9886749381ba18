package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/chatmeter/internal/budget"
	"github.com/theirongolddev/chatmeter/internal/model"
)

func TestLayoutRowSumsToTotal(t *testing.T) {
	widths := LayoutRow(100, 3)
	assert.Equal(t, []int{34, 33, 33}, widths)
	assert.Nil(t, LayoutRow(10, 0))
}

func TestCardRowUsesTallestHeight(t *testing.T) {
	short := ContentCard("Short", "A", 22)
	tall := ContentCard("Tall", "1\n2\n3\n4\n5", 22)
	require.Less(t, lipgloss.Height(short), lipgloss.Height(tall))

	joined := CardRow([]string{tall, short})
	assert.Equal(t, lipgloss.Height(tall), lipgloss.Height(joined))
	assert.Equal(t, 44, lipgloss.Width(joined))
}

func TestMetricCardRowWidth(t *testing.T) {
	row := MetricCardRow([]Metric{
		{Label: "Cost", Value: "$1.20"},
		{Label: "Sessions", Value: "4", Delta: "2/day"},
	}, 60)
	assert.Equal(t, 60, lipgloss.Width(row))
	assert.Contains(t, row, "Sessions")
}

func TestBudgetBar(t *testing.T) {
	st := budget.Evaluate(model.Budget{
		Type:  model.BudgetDaily,
		Limit: decimal.NewFromInt(10),
		Spent: decimal.NewFromInt(9),
	})
	out := BudgetBar(st, 8, 20)
	assert.Contains(t, out, "daily")
	assert.Contains(t, out, "90.0%")
	assert.Contains(t, out, "$9.00 / $10.00")

	none := BudgetBar(budget.NoBudget(model.BudgetMonthly), 8, 20)
	assert.Contains(t, none, "No budget set")
}

func TestSparkline(t *testing.T) {
	assert.Empty(t, Sparkline(nil, "#FFFFFF"))
	out := Sparkline([]float64{0, 1, 2}, "#FFFFFF")
	assert.True(t, strings.Contains(out, "▁") && strings.Contains(out, "█"), out)
}

func TestTabIdxByKey(t *testing.T) {
	assert.Equal(t, 1, TabIdxByKey('b'))
	assert.Equal(t, -1, TabIdxByKey('z'))
}
