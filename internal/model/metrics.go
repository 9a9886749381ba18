package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoricalSummary holds the aggregate across sessions in a day window.
type HistoricalSummary struct {
	Days               int             `json:"days"`
	TotalSessions      int             `json:"total_sessions"`
	TotalMessages      int             `json:"total_messages"`
	TotalInputTokens   int64           `json:"total_input_tokens"`
	TotalOutputTokens  int64           `json:"total_output_tokens"`
	TotalTokens        int64           `json:"total_tokens"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	CostPerSession     decimal.Decimal `json:"avg_cost_per_session"`
	MessagesPerSession decimal.Decimal `json:"avg_messages_per_session"`
	CostPerMessage     decimal.Decimal `json:"avg_cost_per_message"`
	CostPerToken       decimal.Decimal `json:"avg_cost_per_token"`
	ActiveDays         int             `json:"active_days"`
}

// ModelEfficiency holds per-model cost ratios over a window.
type ModelEfficiency struct {
	Model                 string          `json:"model"`
	Sessions              int             `json:"sessions"`
	Messages              int             `json:"messages"`
	InputTokens           int64           `json:"input_tokens"`
	OutputTokens          int64           `json:"output_tokens"`
	TotalCost             decimal.Decimal `json:"total_cost"`
	CostPerSession        decimal.Decimal `json:"cost_per_session"`
	CostPerMessage        decimal.Decimal `json:"cost_per_message"`
	CostPerToken          decimal.Decimal `json:"cost_per_token"`
	MessagesPerSession    decimal.Decimal `json:"messages_per_session"`
	InputTokensPerMessage decimal.Decimal `json:"input_tokens_per_message"`
	OutputTokensPerMsg    decimal.Decimal `json:"output_tokens_per_message"`
	SharePercent          float64         `json:"share_percent"`
}

// TotalTokens returns input plus output tokens.
func (m ModelEfficiency) TotalTokens() int64 {
	return m.InputTokens + m.OutputTokens
}

// EfficiencyReport bundles the summary, per-model rows and recommendations.
type EfficiencyReport struct {
	Summary         HistoricalSummary `json:"summary"`
	Models          []ModelEfficiency `json:"models"`
	MostEfficient   string            `json:"most_efficient,omitempty"`
	Recommendations []string          `json:"recommendations"`
}

// ComparisonRow is one model's projected session cost.
type ComparisonRow struct {
	Model                  string          `json:"model"`
	Name                   string          `json:"name"`
	Provider               string          `json:"provider"`
	InputRate              decimal.Decimal `json:"input_rate_per_million"`
	OutputRate             decimal.Decimal `json:"output_rate_per_million"`
	MessagesPerSession     decimal.Decimal `json:"messages_per_session"`
	InputTokensPerMessage  decimal.Decimal `json:"input_tokens_per_message"`
	OutputTokensPerMessage decimal.Decimal `json:"output_tokens_per_message"`
	SessionCost            decimal.Decimal `json:"session_cost"`
	CostPerMillion         decimal.Decimal `json:"cost_per_million"`
	Historical             bool            `json:"historical"`
}

// DailyStats holds metrics for a single calendar day.
type DailyStats struct {
	Date         time.Time       `json:"date"`
	Sessions     int             `json:"sessions"`
	Messages     int             `json:"messages"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
}

// ModelShare holds a model's share of sessions and spend.
type ModelShare struct {
	Model           string          `json:"model"`
	Sessions        int             `json:"sessions"`
	Cost            decimal.Decimal `json:"cost"`
	SessionsPercent float64         `json:"sessions_percent"`
	CostPercent     float64         `json:"cost_percent"`
}
