// Package model defines domain types for chatmeter sessions, budgets and reports.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role identifies who authored a logged message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// MessageEvent is one logged message. Append-only.
type MessageEvent struct {
	ID             int64           `json:"id,omitempty"`
	SessionID      string          `json:"session_id"`
	Role           Role            `json:"role"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	Cost           decimal.Decimal `json:"cost"`
	Model          string          `json:"model"`
	Timestamp      time.Time       `json:"timestamp"`
	ContentExcerpt string          `json:"content_excerpt"`
}

// Session holds the running totals of one conversation.
type Session struct {
	SessionID         string          `json:"session_id"`
	Model             string          `json:"model_used"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalMessages     int             `json:"total_messages"`
	TotalInputTokens  int64           `json:"total_input_tokens"`
	TotalOutputTokens int64           `json:"total_output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (s Session) TotalTokens() int64 {
	return s.TotalInputTokens + s.TotalOutputTokens
}

// Closed reports whether the session has an end time.
func (s Session) Closed() bool {
	return s.EndTime != nil
}

// SessionSummary is the in-memory view of the active session.
type SessionSummary struct {
	SessionID         string          `json:"session_id"`
	Model             string          `json:"model_used"`
	Active            bool            `json:"active"`
	StartTime         time.Time       `json:"start_time"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalMessages     int             `json:"total_messages"`
	TotalInputTokens  int64           `json:"total_input_tokens"`
	TotalOutputTokens int64           `json:"total_output_tokens"`
	AvgCostPerMessage decimal.Decimal `json:"avg_cost_per_message"`
	Messages          []MessageEvent  `json:"messages"`
}
