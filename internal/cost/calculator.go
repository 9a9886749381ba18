// Package cost converts token counts into USD using the pricing table.
package cost

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/config"
)

// ErrNegativeTokens is returned for a negative token count.
var ErrNegativeTokens = errors.New("cost: negative token count")

// Breakdown is the cost of one message.
type Breakdown struct {
	InputCost  decimal.Decimal `json:"input_cost"`
	OutputCost decimal.Decimal `json:"output_cost"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

var zeroBreakdown = Breakdown{InputCost: decimal.Zero, OutputCost: decimal.Zero, TotalCost: decimal.Zero}

// Calculator prices token usage. Safe for concurrent use.
type Calculator struct {
	pricing *config.PricingTable
}

// NewCalculator returns a Calculator over the given table.
func NewCalculator(pricing *config.PricingTable) *Calculator {
	return &Calculator{pricing: pricing}
}

// Pricing returns the table the calculator reads from.
func (c *Calculator) Pricing() *config.PricingTable {
	return c.pricing
}

// Calculate computes the cost of a message. Unknown or unavailable models
// cost nothing.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int64) (Breakdown, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return zeroBreakdown, ErrNegativeTokens
	}
	return c.Estimate(model, decimal.NewFromInt(inputTokens), decimal.NewFromInt(outputTokens)), nil
}

// Estimate is Calculate for fractional token counts, as produced by averages.
// Negative counts are treated as zero.
func (c *Calculator) Estimate(model string, inputTokens, outputTokens decimal.Decimal) Breakdown {
	p, ok := c.pricing.Lookup(model)
	if !ok || !p.Available {
		return zeroBreakdown
	}
	if inputTokens.IsNegative() {
		inputTokens = decimal.Zero
	}
	if outputTokens.IsNegative() {
		outputTokens = decimal.Zero
	}

	in := inputTokens.Mul(p.InputPerMTok).Shift(-6)
	out := outputTokens.Mul(p.OutputPerMTok).Shift(-6)
	return Breakdown{InputCost: in, OutputCost: out, TotalCost: in.Add(out)}
}

// CostPerMillion returns the blended cost of one million tokens at the given
// input/output mix. Zero when there are no tokens.
func (c *Calculator) CostPerMillion(model string, inputTokens, outputTokens decimal.Decimal) decimal.Decimal {
	total := inputTokens.Add(outputTokens)
	if !total.IsPositive() {
		return decimal.Zero
	}
	b := c.Estimate(model, inputTokens, outputTokens)
	return b.TotalCost.Shift(6).DivRound(total, 16)
}
