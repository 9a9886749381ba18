// Package pipeline aggregates persisted sessions into summary, daily and per-model metrics.
package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/model"
)

const dayLayout = "2006-01-02"

// atLeastOne returns n as a decimal, floored at 1 so it is safe as a divisor.
func atLeastOne(n int64) decimal.Decimal {
	if n < 1 {
		n = 1
	}
	return decimal.NewFromInt(n)
}

// Aggregate computes summary statistics from sessions whose start time falls
// within [since, until). Averages divide by max(denominator, 1).
func Aggregate(sessions []model.Session, since, until time.Time) model.HistoricalSummary {
	filtered := FilterByTime(sessions, since, until)

	stats := model.HistoricalSummary{TotalCost: decimal.Zero}
	activeDays := make(map[string]struct{})

	for _, s := range filtered {
		stats.TotalSessions++
		stats.TotalMessages += s.TotalMessages
		stats.TotalInputTokens += s.TotalInputTokens
		stats.TotalOutputTokens += s.TotalOutputTokens
		stats.TotalCost = stats.TotalCost.Add(s.TotalCost)

		if !s.StartTime.IsZero() {
			activeDays[s.StartTime.Local().Format(dayLayout)] = struct{}{}
		}
	}

	stats.ActiveDays = len(activeDays)
	stats.TotalTokens = stats.TotalInputTokens + stats.TotalOutputTokens

	sessionsDiv := atLeastOne(int64(stats.TotalSessions))
	stats.CostPerSession = stats.TotalCost.Div(sessionsDiv)
	stats.MessagesPerSession = decimal.NewFromInt(int64(stats.TotalMessages)).Div(sessionsDiv)
	stats.CostPerMessage = stats.TotalCost.Div(atLeastOne(int64(stats.TotalMessages)))
	stats.CostPerToken = stats.TotalCost.Div(atLeastOne(stats.TotalTokens))

	return stats
}

func dayStart(t time.Time) time.Time {
	t = t.Local()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}

// AggregateDays computes per-day statistics, one row per calendar day in
// [since, until], most recent first. Days with no sessions are zero rows.
func AggregateDays(sessions []model.Session, since, until time.Time) []model.DailyStats {
	filtered := FilterByTime(sessions, since, until)

	dayMap := make(map[string]*model.DailyStats)

	for _, s := range filtered {
		if s.StartTime.IsZero() {
			continue
		}
		day := dayStart(s.StartTime)
		key := day.Format(dayLayout)
		ds, ok := dayMap[key]
		if !ok {
			ds = &model.DailyStats{Date: day, Cost: decimal.Zero}
			dayMap[key] = ds
		}

		ds.Sessions++
		ds.Messages += s.TotalMessages
		ds.InputTokens += s.TotalInputTokens
		ds.OutputTokens += s.TotalOutputTokens
		ds.Cost = ds.Cost.Add(s.TotalCost)
	}

	// Fill in every day in the range so the chart shows gaps as zeros
	if !since.IsZero() && !until.IsZero() {
		day := dayStart(since)
		end := dayStart(until)
		for !day.After(end) {
			key := day.Format(dayLayout)
			if _, ok := dayMap[key]; !ok {
				dayMap[key] = &model.DailyStats{Date: day, Cost: decimal.Zero}
			}
			day = day.AddDate(0, 0, 1)
		}
	}

	days := make([]model.DailyStats, 0, len(dayMap))
	for _, ds := range dayMap {
		days = append(days, *ds)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Date.After(days[j].Date)
	})

	return days
}

// AggregateModels groups sessions by model and computes cost ratios.
// Rows are ordered by cost per token ascending, then model id.
func AggregateModels(sessions []model.Session, since, until time.Time) []model.ModelEfficiency {
	filtered := FilterByTime(sessions, since, until)

	modelMap := make(map[string]*model.ModelEfficiency)
	for _, s := range filtered {
		me, ok := modelMap[s.Model]
		if !ok {
			me = &model.ModelEfficiency{Model: s.Model, TotalCost: decimal.Zero}
			modelMap[s.Model] = me
		}
		me.Sessions++
		me.Messages += s.TotalMessages
		me.InputTokens += s.TotalInputTokens
		me.OutputTokens += s.TotalOutputTokens
		me.TotalCost = me.TotalCost.Add(s.TotalCost)
	}

	models := make([]model.ModelEfficiency, 0, len(modelMap))
	for _, me := range modelMap {
		sessionsDiv := atLeastOne(int64(me.Sessions))
		messagesDiv := atLeastOne(int64(me.Messages))
		me.CostPerSession = me.TotalCost.Div(sessionsDiv)
		me.CostPerMessage = me.TotalCost.Div(messagesDiv)
		me.CostPerToken = me.TotalCost.Div(atLeastOne(me.TotalTokens()))
		me.MessagesPerSession = decimal.NewFromInt(int64(me.Messages)).Div(sessionsDiv)
		me.InputTokensPerMessage = decimal.NewFromInt(me.InputTokens).Div(messagesDiv)
		me.OutputTokensPerMsg = decimal.NewFromInt(me.OutputTokens).Div(messagesDiv)
		if len(filtered) > 0 {
			me.SharePercent = float64(me.Sessions) / float64(len(filtered)) * 100
		}
		models = append(models, *me)
	}
	sort.Slice(models, func(i, j int) bool {
		if !models[i].CostPerToken.Equal(models[j].CostPerToken) {
			return models[i].CostPerToken.LessThan(models[j].CostPerToken)
		}
		return models[i].Model < models[j].Model
	})

	return models
}

// AggregateShares computes each model's share of sessions and spend,
// ordered by cost descending.
func AggregateShares(sessions []model.Session, since, until time.Time) []model.ModelShare {
	filtered := FilterByTime(sessions, since, until)

	shareMap := make(map[string]*model.ModelShare)
	total := decimal.Zero
	for _, s := range filtered {
		ms, ok := shareMap[s.Model]
		if !ok {
			ms = &model.ModelShare{Model: s.Model, Cost: decimal.Zero}
			shareMap[s.Model] = ms
		}
		ms.Sessions++
		ms.Cost = ms.Cost.Add(s.TotalCost)
		total = total.Add(s.TotalCost)
	}

	shares := make([]model.ModelShare, 0, len(shareMap))
	for _, ms := range shareMap {
		ms.SessionsPercent = float64(ms.Sessions) / float64(len(filtered)) * 100
		if total.IsPositive() {
			ms.CostPercent = ms.Cost.Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		shares = append(shares, *ms)
	}
	sort.Slice(shares, func(i, j int) bool {
		if !shares[i].Cost.Equal(shares[j].Cost) {
			return shares[i].Cost.GreaterThan(shares[j].Cost)
		}
		return shares[i].Model < shares[j].Model
	})

	return shares
}

// FilterByTime returns sessions whose start time falls within [since, until).
// A zero bound is open.
func FilterByTime(sessions []model.Session, since, until time.Time) []model.Session {
	if since.IsZero() && until.IsZero() {
		return sessions
	}

	var result []model.Session
	for _, s := range sessions {
		if s.StartTime.IsZero() {
			continue
		}
		if !since.IsZero() && s.StartTime.Before(since) {
			continue
		}
		if !until.IsZero() && !s.StartTime.Before(until) {
			continue
		}
		result = append(result, s)
	}
	return result
}

// FilterByModel returns sessions whose model contains the given substring.
func FilterByModel(sessions []model.Session, modelFilter string) []model.Session {
	if modelFilter == "" {
		return sessions
	}
	var result []model.Session
	for _, s := range sessions {
		if containsIgnoreCase(s.Model, modelFilter) {
			result = append(result, s)
		}
	}
	return result
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
