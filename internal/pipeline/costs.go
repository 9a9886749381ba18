package pipeline

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/cost"
	"github.com/theirongolddev/chatmeter/internal/model"
)

// CostSplit holds aggregate costs split by token direction.
type CostSplit struct {
	InputCost    decimal.Decimal
	OutputCost   decimal.Decimal
	TotalCost    decimal.Decimal
	RecordedCost decimal.Decimal
}

// ModelCostBreakdown holds cost components for one model.
type ModelCostBreakdown struct {
	Model string
	CostSplit
}

func zeroSplit() CostSplit {
	return CostSplit{
		InputCost:    decimal.Zero,
		OutputCost:   decimal.Zero,
		TotalCost:    decimal.Zero,
		RecordedCost: decimal.Zero,
	}
}

func (c *CostSplit) add(b cost.Breakdown, recorded decimal.Decimal) {
	c.InputCost = c.InputCost.Add(b.InputCost)
	c.OutputCost = c.OutputCost.Add(b.OutputCost)
	c.TotalCost = c.TotalCost.Add(b.TotalCost)
	c.RecordedCost = c.RecordedCost.Add(recorded)
}

// AggregateCostBreakdown reprices session token totals at current rates to
// split spend into input and output cost, alongside the recorded cost.
// Models the calculator does not know price at zero.
func AggregateCostBreakdown(
	sessions []model.Session,
	since time.Time,
	until time.Time,
	calc *cost.Calculator,
) (CostSplit, []ModelCostBreakdown) {
	filtered := FilterByTime(sessions, since, until)

	totals := zeroSplit()
	byModel := make(map[string]*ModelCostBreakdown)

	for _, s := range filtered {
		b, err := calc.Calculate(s.Model, s.TotalInputTokens, s.TotalOutputTokens)
		if err != nil {
			continue
		}
		totals.add(b, s.TotalCost)

		row, exists := byModel[s.Model]
		if !exists {
			row = &ModelCostBreakdown{Model: s.Model, CostSplit: zeroSplit()}
			byModel[s.Model] = row
		}
		row.add(b, s.TotalCost)
	}

	modelRows := make([]ModelCostBreakdown, 0, len(byModel))
	for _, row := range byModel {
		modelRows = append(modelRows, *row)
	}

	sort.Slice(modelRows, func(i, j int) bool {
		if !modelRows[i].RecordedCost.Equal(modelRows[j].RecordedCost) {
			return modelRows[i].RecordedCost.GreaterThan(modelRows[j].RecordedCost)
		}
		return modelRows[i].Model < modelRows[j].Model
	})

	return totals, modelRows
}
