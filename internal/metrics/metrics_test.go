package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/theirongolddev/chatmeter/internal/model"
)

func TestObserveMessage(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveMessage(model.MessageEvent{
		Role: model.RoleUser, Model: "A", InputTokens: 1000, Cost: decimal.RequireFromString("0.001"),
	})
	m.ObserveMessage(model.MessageEvent{
		Role: model.RoleAssistant, Model: "A", OutputTokens: 2000, Cost: decimal.RequireFromString("0.004"),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("user", "A")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "A")))
	assert.InDelta(t, 0.005, testutil.ToFloat64(m.CostUSDTotal.WithLabelValues("A")), 1e-12)
}

func TestObserveBudget(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBudget(model.BudgetStatus{
		Type: model.BudgetDaily, State: model.StateWarning,
		Limit: decimal.NewFromInt(10), Spent: decimal.NewFromInt(8),
	})
	assert.InDelta(t, 0.8, testutil.ToFloat64(m.BudgetUsed.WithLabelValues("daily")), 1e-12)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BudgetLimitUSD.WithLabelValues("daily")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveMessage(model.MessageEvent{})
	m.PersistFailed("append_message")
	m.SessionClosed()
	m.ProviderCall("ok", 1)
	m.ObserveBudget(model.BudgetStatus{State: model.StateWarning})
}
