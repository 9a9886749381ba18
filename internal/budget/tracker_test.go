package budget

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTracker(t *testing.T, rollover bool) (*Tracker, *store.Memory, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)}
	mem := store.NewMemory()
	return NewTracker(mem, nil, Options{AutoRollover: rollover, Now: c.Now}), mem, c
}

func TestEvaluateThresholds(t *testing.T) {
	tests := []struct {
		spent string
		want  model.BudgetState
		msg   string
	}{
		{"0", model.StateWithinLimit, "Within budget (0.0% used)"},
		{"79.9", model.StateWithinLimit, "Within budget (79.9% used)"},
		{"80", model.StateWarning, "Approaching budget limit (80.0% used)"},
		{"99.99", model.StateWarning, "Approaching budget limit (100.0% used)"},
		{"100", model.StateExceeded, "Budget exceeded (100.0% used)"},
		{"150", model.StateExceeded, "Budget exceeded (150.0% used)"},
	}
	for _, tt := range tests {
		t.Run(tt.spent, func(t *testing.T) {
			st := Evaluate(model.Budget{Type: model.BudgetDaily, Limit: dec("100"), Spent: dec(tt.spent)})
			assert.Equal(t, tt.want, st.State)
			assert.Equal(t, tt.msg, st.Message)
		})
	}
}

func TestEvaluateRemainingCanGoNegative(t *testing.T) {
	st := Evaluate(model.Budget{Limit: dec("10"), Spent: dec("12.5")})
	assert.Equal(t, "-2.5", st.Remaining.String())
}

func TestScenarioWarningThenExceeded(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTracker(t, true)

	_, err := tr.Create(ctx, model.BudgetDaily, dec("10"))
	require.NoError(t, err)

	st, err := tr.ApplySpend(ctx, model.BudgetDaily, dec("8"))
	require.NoError(t, err)
	assert.Equal(t, model.StateWarning, st.State)
	assert.Equal(t, 80.0, st.PercentageUsed)
	assert.Equal(t, "2", st.Remaining.String())

	st, err = tr.ApplySpend(ctx, model.BudgetDaily, dec("2.01"))
	require.NoError(t, err)
	assert.Equal(t, model.StateExceeded, st.State)
}

func TestStatusWithoutBudget(t *testing.T) {
	tr, _, _ := newTracker(t, true)
	st, err := tr.Status(context.Background(), model.BudgetMonthly)
	require.NoError(t, err)
	assert.Equal(t, model.StateNoBudget, st.State)
	assert.Equal(t, "No budget set", st.Message)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTracker(t, false)

	_, err := tr.Create(ctx, model.BudgetType("weekly"), dec("5"))
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = tr.Create(ctx, model.BudgetDaily, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = tr.ApplySpend(ctx, model.BudgetDaily, dec("-1"))
	assert.ErrorIs(t, err, ErrNegativeAmount)
	_, err = tr.ApplySpend(ctx, model.BudgetDaily, dec("1"))
	assert.ErrorIs(t, err, ErrNoBudget)
	_, err = tr.Reset(ctx, model.BudgetTotal)
	assert.ErrorIs(t, err, ErrNoBudget)
	assert.ErrorIs(t, tr.Remove(ctx, model.BudgetTotal), ErrNoBudget)
}

func TestCreateReplacesExisting(t *testing.T) {
	ctx := context.Background()
	tr, mem, _ := newTracker(t, false)

	_, err := tr.Create(ctx, model.BudgetDaily, dec("10"))
	require.NoError(t, err)
	_, err = tr.ApplySpend(ctx, model.BudgetDaily, dec("4"))
	require.NoError(t, err)
	st, err := tr.Create(ctx, model.BudgetDaily, dec("20"))
	require.NoError(t, err)
	assert.True(t, st.Spent.IsZero())

	budgets, err := mem.Budgets(ctx)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "20", budgets[0].Limit.String())
}

func TestResetLimitRemove(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTracker(t, false)

	_, err := tr.Create(ctx, model.BudgetTotal, dec("50"))
	require.NoError(t, err)
	_, err = tr.ApplySpend(ctx, model.BudgetTotal, dec("45"))
	require.NoError(t, err)

	st, err := tr.UpdateLimit(ctx, model.BudgetTotal, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, model.StateWithinLimit, st.State)
	assert.Equal(t, "45", st.Spent.String())

	st, err = tr.Reset(ctx, model.BudgetTotal)
	require.NoError(t, err)
	assert.True(t, st.Spent.IsZero())
	assert.Equal(t, "100", st.Limit.String())

	require.NoError(t, tr.Remove(ctx, model.BudgetTotal))
	st, err = tr.Status(ctx, model.BudgetTotal)
	require.NoError(t, err)
	assert.Equal(t, model.StateNoBudget, st.State)
}

func TestConcurrentSpendIsNotLost(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTracker(t, true)
	_, err := tr.Create(ctx, model.BudgetDaily, dec("100"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.ApplySpend(ctx, model.BudgetDaily, dec("0.05"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := tr.Status(ctx, model.BudgetDaily)
	require.NoError(t, err)
	assert.Equal(t, "2.5", st.Spent.String())
}

func TestRollover(t *testing.T) {
	ctx := context.Background()
	tr, _, c := newTracker(t, true)

	for _, bt := range model.BudgetTypes {
		_, err := tr.Create(ctx, bt, dec("10"))
		require.NoError(t, err)
		_, err = tr.ApplySpend(ctx, bt, dec("5"))
		require.NoError(t, err)
	}

	// Same day: nothing rolls.
	rolled, err := tr.Rollover(ctx)
	require.NoError(t, err)
	assert.Empty(t, rolled)

	// Next day, same month: only daily.
	c.set(time.Date(2025, 3, 11, 9, 0, 0, 0, time.Local))
	st, err := tr.Status(ctx, model.BudgetDaily)
	require.NoError(t, err)
	assert.True(t, st.Spent.IsZero())
	st, err = tr.Status(ctx, model.BudgetMonthly)
	require.NoError(t, err)
	assert.Equal(t, "5", st.Spent.String())

	// Next month: monthly rolls, total never does.
	c.set(time.Date(2025, 4, 2, 9, 0, 0, 0, time.Local))
	rolled, err = tr.Rollover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.BudgetType{model.BudgetDaily, model.BudgetMonthly}, rolled)
	st, err = tr.Status(ctx, model.BudgetTotal)
	require.NoError(t, err)
	assert.Equal(t, "5", st.Spent.String())
}

func TestRolloverDisabled(t *testing.T) {
	ctx := context.Background()
	tr, _, c := newTracker(t, false)
	_, err := tr.Create(ctx, model.BudgetDaily, dec("10"))
	require.NoError(t, err)
	_, err = tr.ApplySpend(ctx, model.BudgetDaily, dec("3"))
	require.NoError(t, err)

	c.set(time.Date(2025, 3, 12, 9, 0, 0, 0, time.Local))
	st, err := tr.Status(ctx, model.BudgetDaily)
	require.NoError(t, err)
	assert.Equal(t, "3", st.Spent.String())
}

func seedSession(t *testing.T, mem *store.Memory, start time.Time, cost string) {
	t.Helper()
	ctx := context.Background()
	s := model.Session{
		SessionID: fmt.Sprintf("session_%d", start.UnixNano()),
		Model:     "A",
		StartTime: start,
		TotalCost: dec(cost),
	}
	require.NoError(t, mem.CreateSession(ctx, s))
	require.NoError(t, mem.UpdateSessionTotals(ctx, s))
}

func TestProjectNoData(t *testing.T) {
	tr, _, _ := newTracker(t, false)
	p, err := tr.Project(context.Background(), model.BudgetDaily, 7)
	require.NoError(t, err)
	assert.True(t, p.Projected.IsZero())
	assert.Equal(t, "low", p.Confidence)
	assert.Equal(t, "No recent data available for projection", p.Message)
}

func TestProjectConfidenceAndExceed(t *testing.T) {
	ctx := context.Background()
	tr, mem, c := newTracker(t, false)
	now := c.Now()

	// Two sessions on one day count once.
	seedSession(t, mem, now.Add(-1*time.Hour), "1.40")
	seedSession(t, mem, now.Add(-2*time.Hour), "1.40")
	seedSession(t, mem, now.AddDate(0, 0, -1), "2.80")
	seedSession(t, mem, now.AddDate(0, 0, -2), "1.40")

	_, err := tr.Create(ctx, model.BudgetDaily, dec("5"))
	require.NoError(t, err)

	p, err := tr.Project(ctx, model.BudgetDaily, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, p.DataDays)
	assert.Equal(t, "medium", p.Confidence)
	assert.Equal(t, "1", p.AvgDaily.String())
	assert.Equal(t, "7", p.Projected.String())
	assert.True(t, p.HasBudget)
	assert.True(t, p.WillExceed)
	assert.Equal(t, "Projected spending: $7.00 over 7 days", p.Message)

	for i := 3; i < 5; i++ {
		seedSession(t, mem, now.AddDate(0, 0, -i), "0")
	}
	p, err = tr.Project(ctx, model.BudgetDaily, 1)
	require.NoError(t, err)
	assert.Equal(t, "high", p.Confidence)
	assert.False(t, p.WillExceed)
}

func TestProjectWithoutBudget(t *testing.T) {
	ctx := context.Background()
	tr, mem, c := newTracker(t, false)
	seedSession(t, mem, c.Now().Add(-time.Hour), "3.5")

	p, err := tr.Project(ctx, model.BudgetMonthly, 30)
	require.NoError(t, err)
	assert.False(t, p.HasBudget)
	assert.False(t, p.WillExceed)
	assert.Equal(t, "low", p.Confidence)
}

func TestSpendingSummary(t *testing.T) {
	ctx := context.Background()
	tr, mem, c := newTracker(t, false)
	seedSession(t, mem, c.Now().Add(-time.Hour), "6")
	seedSession(t, mem, c.Now().AddDate(0, 0, -3), "4")
	seedSession(t, mem, c.Now().AddDate(0, 0, -40), "100")

	_, err := tr.Create(ctx, model.BudgetMonthly, dec("50"))
	require.NoError(t, err)

	sum, err := tr.SpendingSummary(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sessions)
	assert.Equal(t, "10", sum.TotalSpent.String())
	assert.Equal(t, "1", sum.DailyAverage.String())
	assert.Equal(t, "30", sum.ProjectedMonthly.String())
	assert.Equal(t, model.StateNoBudget, sum.Daily.State)
	assert.Equal(t, model.StateWithinLimit, sum.Monthly.State)
}

func TestAlerts(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTracker(t, false)

	_, err := tr.Create(ctx, model.BudgetDaily, dec("10"))
	require.NoError(t, err)
	_, err = tr.ApplySpend(ctx, model.BudgetDaily, dec("8.5"))
	require.NoError(t, err)
	_, err = tr.Create(ctx, model.BudgetMonthly, dec("10"))
	require.NoError(t, err)
	_, err = tr.ApplySpend(ctx, model.BudgetMonthly, dec("11"))
	require.NoError(t, err)
	_, err = tr.Create(ctx, model.BudgetTotal, dec("100"))
	require.NoError(t, err)

	alerts, err := tr.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "warning", alerts[0].Severity)
	assert.Equal(t, model.BudgetDaily, alerts[0].Type)
	assert.Equal(t, "critical", alerts[1].Severity)
	assert.Equal(t, "monthly budget: Budget exceeded (110.0% used)", alerts[1].Message)
}
