package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetType is the period a budget covers.
type BudgetType string

const (
	BudgetDaily   BudgetType = "daily"
	BudgetMonthly BudgetType = "monthly"
	BudgetTotal   BudgetType = "total"
)

// BudgetTypes lists every budget type in display order.
var BudgetTypes = []BudgetType{BudgetDaily, BudgetMonthly, BudgetTotal}

// Valid reports whether t is a known budget type.
func (t BudgetType) Valid() bool {
	switch t {
	case BudgetDaily, BudgetMonthly, BudgetTotal:
		return true
	}
	return false
}

// Budget is a spend ceiling for one period type.
type Budget struct {
	ID        int64           `json:"id"`
	Type      BudgetType      `json:"budget_type"`
	Limit     decimal.Decimal `json:"limit_amount"`
	Spent     decimal.Decimal `json:"current_spent"`
	ResetDate time.Time       `json:"reset_date"`
	Active    bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// BudgetState is the threshold classification of a budget.
type BudgetState string

const (
	StateNoBudget    BudgetState = "no_budget"
	StateWithinLimit BudgetState = "within_limit"
	StateWarning     BudgetState = "warning"
	StateExceeded    BudgetState = "exceeded"
)

// BudgetStatus is the evaluated state of one budget.
type BudgetStatus struct {
	Type           BudgetType      `json:"budget_type"`
	State          BudgetState     `json:"state"`
	Limit          decimal.Decimal `json:"limit"`
	Spent          decimal.Decimal `json:"spent"`
	Remaining      decimal.Decimal `json:"remaining"`
	PercentageUsed float64         `json:"percentage_used"`
	ResetDate      time.Time       `json:"reset_date,omitempty"`
	Message        string          `json:"message"`
}

// Projection estimates future spend from the trailing week.
type Projection struct {
	Type       BudgetType      `json:"budget_type"`
	DaysAhead  int             `json:"days_ahead"`
	AvgDaily   decimal.Decimal `json:"avg_daily"`
	Projected  decimal.Decimal `json:"projected"`
	Limit      decimal.Decimal `json:"limit"`
	HasBudget  bool            `json:"has_budget"`
	WillExceed bool            `json:"will_exceed"`
	Confidence string          `json:"confidence"`
	DataDays   int             `json:"data_days"`
	Message    string          `json:"message,omitempty"`
}

// SpendingSummary is a period spend rollup with a monthly projection.
type SpendingSummary struct {
	Days             int             `json:"days"`
	Sessions         int             `json:"sessions"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	DailyAverage     decimal.Decimal `json:"daily_average"`
	ProjectedMonthly decimal.Decimal `json:"projected_monthly"`
	Daily            BudgetStatus    `json:"daily"`
	Monthly          BudgetStatus    `json:"monthly"`
}

// BudgetAlert is raised for a budget in warning or exceeded state.
type BudgetAlert struct {
	Type     BudgetType   `json:"budget_type"`
	Severity string       `json:"severity"`
	Message  string       `json:"message"`
	Status   BudgetStatus `json:"status"`
}
