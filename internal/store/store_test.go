package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/chatmeter/internal/model"
)

type backend interface {
	CreateSession(ctx context.Context, sess model.Session) error
	AppendMessage(ctx context.Context, m model.MessageEvent) error
	UpdateSessionTotals(ctx context.Context, sess model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, error)
	SessionsSince(ctx context.Context, since time.Time) ([]model.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]model.MessageEvent, error)
	CreateBudget(ctx context.Context, b model.Budget) (model.Budget, error)
	Budget(ctx context.Context, t model.BudgetType) (model.Budget, error)
	Budgets(ctx context.Context) ([]model.Budget, error)
	AddBudgetSpent(ctx context.Context, t model.BudgetType, amount decimal.Decimal) (model.Budget, error)
	ResetBudget(ctx context.Context, t model.BudgetType, date time.Time) (model.Budget, error)
	RollBudget(ctx context.Context, t model.BudgetType, periodStart time.Time) (bool, error)
	UpdateBudgetLimit(ctx context.Context, t model.BudgetType, limit decimal.Decimal) (model.Budget, error)
	DeactivateBudget(ctx context.Context, t model.BudgetType) error
	Close() error
}

func backends(t *testing.T) map[string]backend {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sub", "chatmeter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]backend{
		"sqlite": db,
		"memory": NewMemory(),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var base = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sess := model.Session{SessionID: "s1", Model: "A", StartTime: base}
			require.NoError(t, st.CreateSession(ctx, sess))

			require.NoError(t, st.AppendMessage(ctx, model.MessageEvent{
				SessionID: "s1", Role: model.RoleUser, InputTokens: 1000,
				Cost: dec("0.001"), Model: "A", Timestamp: base, ContentExcerpt: "hello",
			}))
			require.NoError(t, st.AppendMessage(ctx, model.MessageEvent{
				SessionID: "s1", Role: model.RoleAssistant, OutputTokens: 2000,
				Cost: dec("0.004"), Model: "A", Timestamp: base.Add(time.Second), ContentExcerpt: "hi there",
			}))

			sess.TotalCost = dec("0.005")
			sess.TotalMessages = 2
			sess.TotalInputTokens = 1000
			sess.TotalOutputTokens = 2000
			require.NoError(t, st.UpdateSessionTotals(ctx, sess))

			got, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, got.TotalCost.Equal(dec("0.005")), got.TotalCost.String())
			assert.Equal(t, 2, got.TotalMessages)
			assert.Equal(t, int64(1000), got.TotalInputTokens)
			assert.Equal(t, int64(2000), got.TotalOutputTokens)
			assert.Equal(t, "A", got.Model)
			assert.True(t, got.StartTime.Equal(base))
			assert.Nil(t, got.EndTime)

			msgs, err := st.ListMessages(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, model.RoleUser, msgs[0].Role)
			assert.Equal(t, model.RoleAssistant, msgs[1].Role)
			assert.True(t, msgs[1].Cost.Equal(dec("0.004")))
			assert.Equal(t, "hi there", msgs[1].ContentExcerpt)
		})
	}
}

func TestCloseSessionKeepsEndTime(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sess := model.Session{SessionID: "s1", Model: "A", StartTime: base}
			require.NoError(t, st.CreateSession(ctx, sess))

			end := base.Add(time.Hour)
			closed := sess
			closed.EndTime = &end
			require.NoError(t, st.UpdateSessionTotals(ctx, closed))
			require.NoError(t, st.UpdateSessionTotals(ctx, sess))

			got, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got.EndTime)
			assert.True(t, got.EndTime.Equal(end))
		})
	}
}

func TestUpdateSessionTotalsCreatesMissingRow(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.UpdateSessionTotals(ctx, model.Session{
				SessionID: "late", Model: "A", StartTime: base, TotalCost: dec("1.25"), TotalMessages: 3,
			}))

			got, err := st.GetSession(ctx, "late")
			require.NoError(t, err)
			assert.True(t, got.TotalCost.Equal(dec("1.25")))
		})
	}
}

func TestGetSessionNotFound(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.GetSession(context.Background(), "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestSessionsSince(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"old", "mid", "new"} {
				require.NoError(t, st.CreateSession(ctx, model.Session{
					SessionID: id, Model: "A", StartTime: base.AddDate(0, 0, i*5),
				}))
			}

			got, err := st.SessionsSince(ctx, base.AddDate(0, 0, 1))
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "new", got[0].SessionID)
			assert.Equal(t, "mid", got[1].SessionID)
		})
	}
}

func TestCostPrecision(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.UpdateSessionTotals(ctx, model.Session{
				SessionID: "p", Model: "A", StartTime: base, TotalCost: dec("0.000000123"),
			}))
			got, err := st.GetSession(ctx, "p")
			require.NoError(t, err)
			assert.Equal(t, "0.000000123", got.TotalCost.String())
		})
	}
}

func TestSubNanoCostRoundTrip(t *testing.T) {
	ctx := context.Background()
	// one token at $0.0375 per million
	perToken := dec("0.0375").Shift(-6)
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sess := model.Session{SessionID: "q", Model: "flash", StartTime: base}
			require.NoError(t, st.CreateSession(ctx, sess))

			total := decimal.Zero
			for i := 0; i < 3; i++ {
				require.NoError(t, st.AppendMessage(ctx, model.MessageEvent{
					SessionID: "q", Role: model.RoleUser, InputTokens: 1,
					Cost: perToken, Model: "flash", Timestamp: base,
				}))
				total = total.Add(perToken)
			}
			sess.TotalCost = total
			sess.TotalMessages = 3
			require.NoError(t, st.UpdateSessionTotals(ctx, sess))

			got, err := st.GetSession(ctx, "q")
			require.NoError(t, err)
			assert.True(t, total.Equal(got.TotalCost), "want %s got %s", total, got.TotalCost)

			msgs, err := st.ListMessages(ctx, "q")
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			sum := decimal.Zero
			for _, m := range msgs {
				assert.Equal(t, "0.0000000375", m.Cost.String())
				sum = sum.Add(m.Cost)
			}
			assert.True(t, sum.Equal(got.TotalCost))

			_, err = st.CreateBudget(ctx, model.Budget{Type: model.BudgetDaily, Limit: dec("1"), ResetDate: base, Active: true, CreatedAt: base})
			require.NoError(t, err)
			b, err := st.AddBudgetSpent(ctx, model.BudgetDaily, perToken)
			require.NoError(t, err)
			assert.Equal(t, "0.0000000375", b.Spent.String())
		})
	}
}

func TestCreateBudgetReplacesActive(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first, err := st.CreateBudget(ctx, model.Budget{Type: model.BudgetDaily, Limit: dec("10"), ResetDate: base})
			require.NoError(t, err)
			_, err = st.AddBudgetSpent(ctx, model.BudgetDaily, dec("3"))
			require.NoError(t, err)

			second, err := st.CreateBudget(ctx, model.Budget{Type: model.BudgetDaily, Limit: dec("20"), ResetDate: base})
			require.NoError(t, err)
			assert.NotEqual(t, first.ID, second.ID)

			_, err = st.CreateBudget(ctx, model.Budget{Type: model.BudgetMonthly, Limit: dec("100"), ResetDate: base})
			require.NoError(t, err)

			active, err := st.Budget(ctx, model.BudgetDaily)
			require.NoError(t, err)
			assert.Equal(t, second.ID, active.ID)
			assert.True(t, active.Limit.Equal(dec("20")))
			assert.True(t, active.Spent.IsZero())

			all, err := st.Budgets(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, model.BudgetDaily, all[0].Type)
			assert.Equal(t, model.BudgetMonthly, all[1].Type)
		})
	}
}

func TestAddBudgetSpentConcurrent(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.CreateBudget(ctx, model.Budget{Type: model.BudgetTotal, Limit: dec("100"), ResetDate: base})
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := st.AddBudgetSpent(ctx, model.BudgetTotal, dec("0.01"))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			b, err := st.Budget(ctx, model.BudgetTotal)
			require.NoError(t, err)
			assert.True(t, b.Spent.Equal(dec("0.4")), b.Spent.String())
		})
	}
}

func TestBudgetMutations(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.AddBudgetSpent(ctx, model.BudgetDaily, dec("1"))
			assert.True(t, errors.Is(err, ErrNotFound))

			_, err = st.CreateBudget(ctx, model.Budget{Type: model.BudgetDaily, Limit: dec("10"), ResetDate: base})
			require.NoError(t, err)

			b, err := st.AddBudgetSpent(ctx, model.BudgetDaily, dec("8"))
			require.NoError(t, err)
			assert.True(t, b.Spent.Equal(dec("8")))

			b, err = st.UpdateBudgetLimit(ctx, model.BudgetDaily, dec("16"))
			require.NoError(t, err)
			assert.True(t, b.Limit.Equal(dec("16")))
			assert.True(t, b.Spent.Equal(dec("8")))

			rolled, err := st.RollBudget(ctx, model.BudgetDaily, base)
			require.NoError(t, err)
			assert.False(t, rolled, "same day must not roll")

			next := base.AddDate(0, 0, 1)
			rolled, err = st.RollBudget(ctx, model.BudgetDaily, next)
			require.NoError(t, err)
			assert.True(t, rolled)

			b, err = st.Budget(ctx, model.BudgetDaily)
			require.NoError(t, err)
			assert.True(t, b.Spent.IsZero())
			assert.Equal(t, "2025-03-11", b.ResetDate.Format("2006-01-02"))

			_, err = st.AddBudgetSpent(ctx, model.BudgetDaily, dec("2"))
			require.NoError(t, err)
			b, err = st.ResetBudget(ctx, model.BudgetDaily, base.AddDate(0, 0, 2))
			require.NoError(t, err)
			assert.True(t, b.Spent.IsZero())
			assert.True(t, b.Limit.Equal(dec("16")))
			assert.True(t, b.Active)

			require.NoError(t, st.DeactivateBudget(ctx, model.BudgetDaily))
			_, err = st.Budget(ctx, model.BudgetDaily)
			assert.True(t, errors.Is(err, ErrNotFound))
			assert.True(t, errors.Is(st.DeactivateBudget(ctx, model.BudgetDaily), ErrNotFound))
		})
	}
}
