// Package analytics derives read-only reports from persisted session history.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/cost"
	"github.com/theirongolddev/chatmeter/internal/logging"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/pipeline"
)

// ErrNoData is returned by Export when the window holds no sessions.
var ErrNoData = errors.New("no data available for export")

// Store is the read side of persistence.
type Store interface {
	SessionsSince(ctx context.Context, since time.Time) ([]model.Session, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]model.MessageEvent, error)
}

// Source selects the usage figures the comparison table projects from.
type Source string

const (
	SourceAssumed    Source = "assumed"
	SourceHistorical Source = "historical"
)

// Assumptions are the per-session figures used by the assumed comparison.
type Assumptions struct {
	MessagesPerSession     int
	InputTokensPerMessage  int
	OutputTokensPerMessage int
}

// DefaultAssumptions is five messages of 350 input and 500 output tokens.
var DefaultAssumptions = Assumptions{
	MessagesPerSession:     5,
	InputTokensPerMessage:  350,
	OutputTokensPerMessage: 500,
}

// Options tunes an Aggregator.
type Options struct {
	Assumptions Assumptions
	Now         func() time.Time
}

// Aggregator builds reports over a trailing window of days.
type Aggregator struct {
	store Store
	calc  *cost.Calculator
	log   *zap.Logger
	opts  Options
}

// New creates an Aggregator.
func New(s Store, calc *cost.Calculator, logger *zap.Logger, opts Options) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Assumptions == (Assumptions{}) {
		opts.Assumptions = DefaultAssumptions
	}
	return &Aggregator{store: s, calc: calc, log: logging.OrNop(logger), opts: opts}
}

func (a *Aggregator) since(days int) time.Time {
	if days < 1 {
		days = 1
	}
	return a.opts.Now().AddDate(0, 0, -days)
}

func (a *Aggregator) sessions(ctx context.Context, days int) ([]model.Session, error) {
	sessions, err := a.store.SessionsSince(ctx, a.since(days))
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	return sessions, nil
}

// HistoricalSummary totals the last days days of sessions.
func (a *Aggregator) HistoricalSummary(ctx context.Context, days int) (model.HistoricalSummary, error) {
	sessions, err := a.sessions(ctx, days)
	if err != nil {
		return model.HistoricalSummary{}, err
	}
	stats := pipeline.Aggregate(sessions, time.Time{}, time.Time{})
	stats.Days = days
	return stats, nil
}

// ModelEfficiency groups the window's sessions by model, cheapest per token first.
func (a *Aggregator) ModelEfficiency(ctx context.Context, days int) ([]model.ModelEfficiency, error) {
	sessions, err := a.sessions(ctx, days)
	if err != nil {
		return nil, err
	}
	return pipeline.AggregateModels(sessions, time.Time{}, time.Time{}), nil
}

// EfficiencyReport combines the summary, per-model rows and recommendations.
func (a *Aggregator) EfficiencyReport(ctx context.Context, days int) (model.EfficiencyReport, error) {
	sessions, err := a.sessions(ctx, days)
	if err != nil {
		return model.EfficiencyReport{}, err
	}
	summary := pipeline.Aggregate(sessions, time.Time{}, time.Time{})
	summary.Days = days
	models := pipeline.AggregateModels(sessions, time.Time{}, time.Time{})

	report := model.EfficiencyReport{
		Summary:         summary,
		Models:          models,
		Recommendations: Recommendations(models, summary.CostPerToken),
	}
	if len(models) > 0 {
		report.MostEfficient = models[0].Model
	}
	return report, nil
}

var (
	switchRatio      = decimal.NewFromInt(2)
	expensiveFactor  = decimal.RequireFromString("1.5")
	highCostPerToken = decimal.RequireFromString("0.0001")
)

// Recommendations turns per-model efficiency into advice. The output is
// deterministic for a given input.
func Recommendations(models []model.ModelEfficiency, avgCostPerToken decimal.Decimal) []string {
	if len(models) == 0 {
		return []string{"No usage data available for recommendations"}
	}

	sorted := make([]model.ModelEfficiency, len(models))
	copy(sorted, models)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CostPerToken.Equal(sorted[j].CostPerToken) {
			return sorted[i].CostPerToken.LessThan(sorted[j].CostPerToken)
		}
		return sorted[i].Model < sorted[j].Model
	})

	var recs []string
	if len(sorted) > 1 {
		most, least := sorted[0], sorted[len(sorted)-1]
		if most.CostPerToken.IsPositive() {
			ratio := least.CostPerToken.Div(most.CostPerToken)
			if ratio.GreaterThan(switchRatio) {
				recs = append(recs, fmt.Sprintf(
					"Consider using %s more often. It's %.1fx more cost-efficient than %s",
					most.Model, ratio.InexactFloat64(), least.Model))
			}
		}
	}

	threshold := avgCostPerToken.Mul(expensiveFactor)
	for _, m := range sorted {
		if m.CostPerToken.GreaterThan(threshold) {
			recs = append(recs, fmt.Sprintf(
				"%s is significantly more expensive than average. Consider using it only for complex tasks.", m.Model))
		}
	}

	if avgCostPerToken.GreaterThan(highCostPerToken) {
		recs = append(recs, "Consider using smaller models for simple tasks to reduce costs")
	}

	if len(recs) == 0 {
		recs = append(recs, "Your current model usage appears cost-efficient!")
	}
	return recs
}

// CostComparison projects a session's cost for every available model.
// SourceHistorical substitutes each model's own averages over the window,
// and zeros for a model with no history.
func (a *Aggregator) CostComparison(ctx context.Context, source Source, days int) ([]model.ComparisonRow, error) {
	history := make(map[string]model.ModelEfficiency)
	if source == SourceHistorical {
		models, err := a.ModelEfficiency(ctx, days)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			id := m.Model
			if p, ok := a.calc.Pricing().Lookup(m.Model); ok {
				id = p.ID
			}
			if _, seen := history[id]; !seen {
				history[id] = m
			}
		}
	}

	var rows []model.ComparisonRow
	for _, p := range a.calc.Pricing().Available() {
		row := model.ComparisonRow{
			Model:      p.ID,
			Name:       p.Name,
			Provider:   p.Provider,
			InputRate:  p.InputPerMTok,
			OutputRate: p.OutputPerMTok,
		}
		switch source {
		case SourceHistorical:
			h, ok := history[p.ID]
			row.Historical = ok
			row.MessagesPerSession = h.MessagesPerSession
			row.InputTokensPerMessage = h.InputTokensPerMessage
			row.OutputTokensPerMessage = h.OutputTokensPerMsg
			if !ok {
				row.MessagesPerSession = decimal.Zero
				row.InputTokensPerMessage = decimal.Zero
				row.OutputTokensPerMessage = decimal.Zero
			}
		default:
			row.MessagesPerSession = decimal.NewFromInt(int64(a.opts.Assumptions.MessagesPerSession))
			row.InputTokensPerMessage = decimal.NewFromInt(int64(a.opts.Assumptions.InputTokensPerMessage))
			row.OutputTokensPerMessage = decimal.NewFromInt(int64(a.opts.Assumptions.OutputTokensPerMessage))
		}

		in := row.MessagesPerSession.Mul(row.InputTokensPerMessage)
		out := row.MessagesPerSession.Mul(row.OutputTokensPerMessage)
		row.SessionCost = a.calc.Estimate(p.ID, in, out).TotalCost.Round(6)
		row.CostPerMillion = a.calc.CostPerMillion(p.ID, in, out).Round(2)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CostPerMillion.Equal(rows[j].CostPerMillion) {
			return rows[i].CostPerMillion.LessThan(rows[j].CostPerMillion)
		}
		return rows[i].Model < rows[j].Model
	})
	return rows, nil
}

// DailyTrend returns one row per calendar day in the window, most recent
// first, with empty days as zero rows.
func (a *Aggregator) DailyTrend(ctx context.Context, days int) ([]model.DailyStats, error) {
	if days < 1 {
		days = 1
	}
	now := a.opts.Now()
	first := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(days - 1))

	sessions, err := a.store.SessionsSince(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	return pipeline.AggregateDays(sessions, first, now.Add(time.Nanosecond)), nil
}

// ModelShare returns each model's share of sessions and spend.
func (a *Aggregator) ModelShare(ctx context.Context, days int) ([]model.ModelShare, error) {
	sessions, err := a.sessions(ctx, days)
	if err != nil {
		return nil, err
	}
	return pipeline.AggregateShares(sessions, time.Time{}, time.Time{}), nil
}

// Sessions returns the window's sessions, newest first.
func (a *Aggregator) Sessions(ctx context.Context, days int) ([]model.Session, error) {
	return a.sessions(ctx, days)
}

// SessionDetail loads one session with its messages.
func (a *Aggregator) SessionDetail(ctx context.Context, id string) (pipeline.SessionMessages, error) {
	sess, err := a.store.GetSession(ctx, id)
	if err != nil {
		return pipeline.SessionMessages{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	msgs, err := a.store.ListMessages(ctx, id)
	if err != nil {
		return pipeline.SessionMessages{}, fmt.Errorf("loading messages for %s: %w", id, err)
	}
	return pipeline.SessionMessages{Session: sess, Messages: msgs}, nil
}
