// Package metrics holds the Prometheus instruments for chatmeter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/model"
)

// Metrics holds all instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Counters
	MessagesTotal        *prometheus.CounterVec
	TokensTotal          *prometheus.CounterVec
	CostUSDTotal         *prometheus.CounterVec
	PersistFailuresTotal *prometheus.CounterVec
	SessionsClosedTotal  prometheus.Counter
	ProviderRequests     *prometheus.CounterVec

	// Gauges
	BudgetSpentUSD *prometheus.GaugeVec
	BudgetLimitUSD *prometheus.GaugeVec
	BudgetUsed     *prometheus.GaugeVec

	// Histograms
	ProviderDuration prometheus.Histogram
}

// New registers every instrument on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmeter_messages_total",
			Help: "Messages recorded by the session ledger",
		}, []string{"role", "model"}),
		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmeter_tokens_total",
			Help: "Tokens recorded by direction",
		}, []string{"direction", "model"}),
		CostUSDTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmeter_cost_usd_total",
			Help: "Recorded spend in USD",
		}, []string{"model"}),
		PersistFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmeter_persist_failures_total",
			Help: "Store writes that failed and were skipped",
		}, []string{"op"}),
		SessionsClosedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "chatmeter_sessions_closed_total",
			Help: "Sessions ended",
		}),
		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmeter_provider_requests_total",
			Help: "Provider calls by outcome",
		}, []string{"outcome"}),
		BudgetSpentUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatmeter_budget_spent_usd",
			Help: "Current spend per budget type",
		}, []string{"budget_type"}),
		BudgetLimitUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatmeter_budget_limit_usd",
			Help: "Limit per budget type",
		}, []string{"budget_type"}),
		BudgetUsed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatmeter_budget_used_ratio",
			Help: "Spent divided by limit per budget type",
		}, []string{"budget_type"}),
		ProviderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatmeter_provider_duration_seconds",
			Help:    "Provider call duration until the stream ends",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
}

// ObserveMessage counts one recorded message.
func (m *Metrics) ObserveMessage(ev model.MessageEvent) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(string(ev.Role), ev.Model).Inc()
	m.TokensTotal.WithLabelValues("input", ev.Model).Add(float64(ev.InputTokens))
	m.TokensTotal.WithLabelValues("output", ev.Model).Add(float64(ev.OutputTokens))
	m.CostUSDTotal.WithLabelValues(ev.Model).Add(ev.Cost.InexactFloat64())
}

// PersistFailed counts one swallowed store failure.
func (m *Metrics) PersistFailed(op string) {
	if m == nil {
		return
	}
	m.PersistFailuresTotal.WithLabelValues(op).Inc()
}

// SessionClosed counts one ended session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsClosedTotal.Inc()
}

// ProviderCall records the outcome and duration of one provider call.
func (m *Metrics) ProviderCall(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(outcome).Inc()
	m.ProviderDuration.Observe(seconds)
}

// ObserveBudget sets the budget gauges from a status.
func (m *Metrics) ObserveBudget(st model.BudgetStatus) {
	if m == nil || st.State == model.StateNoBudget {
		return
	}
	t := string(st.Type)
	m.BudgetSpentUSD.WithLabelValues(t).Set(st.Spent.InexactFloat64())
	m.BudgetLimitUSD.WithLabelValues(t).Set(st.Limit.InexactFloat64())
	ratio := decimal.Zero
	if st.Limit.IsPositive() {
		ratio = st.Spent.Div(st.Limit)
	}
	m.BudgetUsed.WithLabelValues(t).Set(ratio.InexactFloat64())
}
