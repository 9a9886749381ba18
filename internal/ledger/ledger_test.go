package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/chatmeter/internal/budget"
	"github.com/theirongolddev/chatmeter/internal/config"
	"github.com/theirongolddev/chatmeter/internal/cost"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/store"
)

var fixedNow = time.Date(2025, 3, 10, 14, 30, 5, 0, time.UTC)

func testCalc() *cost.Calculator {
	return cost.NewCalculator(config.NewPricingTable([]config.ModelPricing{
		{ID: "A", InputPerMTok: decimal.NewFromInt(1), OutputPerMTok: decimal.NewFromInt(2), Available: true},
	}, "A"))
}

type spendCall struct {
	t      model.BudgetType
	amount decimal.Decimal
}

type fakeBudgets struct {
	mu    sync.Mutex
	calls []spendCall
	err   error
}

func (f *fakeBudgets) ApplySpend(_ context.Context, t model.BudgetType, amount decimal.Decimal) (model.BudgetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spendCall{t, amount})
	return model.BudgetStatus{Type: t}, f.err
}

type failingStore struct{}

var errDown = errors.New("database is down")

func (failingStore) CreateSession(context.Context, model.Session) error       { return errDown }
func (failingStore) AppendMessage(context.Context, model.MessageEvent) error  { return errDown }
func (failingStore) UpdateSessionTotals(context.Context, model.Session) error { return errDown }

func newLedger(s Store, b SpendApplier) *Ledger {
	return New(s, testCalc(), b, nil, Options{
		Now:   func() time.Time { return fixedNow },
		NewID: func(time.Time) string { return "session_20250310_143005_abcdef01" },
	})
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID(fixedNow)
	assert.Regexp(t, `^session_20250310_143005_[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, NewSessionID(fixedNow))
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fb := &fakeBudgets{}
	l := newLedger(mem, fb)

	id, err := l.Start(ctx, "A")
	require.NoError(t, err)
	assert.True(t, l.Active())
	assert.Equal(t, id, l.SessionID())

	user, err := l.Record(ctx, model.RoleUser, 1000, 0, "A", "hello")
	require.NoError(t, err)
	assert.Equal(t, "0.001", user.Cost.String())

	assistant, err := l.Record(ctx, model.RoleAssistant, 0, 2000, "A", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "0.004", assistant.Cost.String())

	sum := l.Summary()
	assert.Equal(t, "0.005", sum.TotalCost.String())
	assert.Equal(t, 2, sum.TotalMessages)
	assert.Equal(t, "0.0025", sum.AvgCostPerMessage.String())
	assert.Len(t, sum.Messages, 2)

	persisted, err := mem.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, sum.TotalCost.Equal(persisted.TotalCost))
	assert.Equal(t, sum.TotalMessages, persisted.TotalMessages)
	assert.Equal(t, int64(1000), persisted.TotalInputTokens)
	assert.Equal(t, int64(2000), persisted.TotalOutputTokens)
	assert.Nil(t, persisted.EndTime)

	closed, err := l.End(ctx)
	require.NoError(t, err)
	require.NotNil(t, closed.EndTime)
	assert.False(t, l.Active())
	assert.Empty(t, l.SessionID())

	persisted, err = mem.GetSession(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, persisted.EndTime)

	require.Len(t, fb.calls, 1)
	assert.Equal(t, model.BudgetDaily, fb.calls[0].t)
	assert.Equal(t, "0.005", fb.calls[0].amount.String())
}

func TestTotalsEqualSumOfRecords(t *testing.T) {
	ctx := context.Background()
	l := newLedger(store.NewMemory(), nil)

	want := decimal.Zero
	for i := 0; i < 25; i++ {
		ev, err := l.Record(ctx, model.RoleUser, int64(100+i), int64(7*i), "A", "x")
		require.NoError(t, err)
		want = want.Add(ev.Cost)
	}
	sum := l.Summary()
	assert.True(t, want.Equal(sum.TotalCost))
	assert.Equal(t, 25, sum.TotalMessages)
}

func TestRecordAutoStarts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLedger(mem, nil)

	require.False(t, l.Active())
	_, err := l.Record(ctx, model.RoleUser, 10, 0, "A", "first")
	require.NoError(t, err)
	assert.True(t, l.Active())

	sess, err := mem.GetSession(ctx, l.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "A", sess.Model)
	assert.Equal(t, 1, sess.TotalMessages)
}

func TestRecordWithoutModel(t *testing.T) {
	ctx := context.Background()

	l := newLedger(store.NewMemory(), nil)
	_, err := l.Record(ctx, model.RoleUser, 10, 0, "", "hi")
	assert.ErrorIs(t, err, ErrNoModel)
	assert.False(t, l.Active())

	mem := store.NewMemory()
	l = New(mem, testCalc(), nil, nil, Options{DefaultModel: "A"})
	ev, err := l.Record(ctx, model.RoleUser, 1000, 0, "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "A", ev.Model)
	assert.Equal(t, "0.001", ev.Cost.String())
	sess, err := mem.GetSession(ctx, l.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "A", sess.Model)

	// an active session keeps its own model
	ev, err = l.Record(ctx, model.RoleAssistant, 0, 1000, "", "ok")
	require.NoError(t, err)
	assert.Equal(t, "A", ev.Model)
}

func TestRecordRejectsBeforeStateChange(t *testing.T) {
	ctx := context.Background()
	l := newLedger(store.NewMemory(), nil)

	_, err := l.Record(ctx, model.Role("system"), 1, 1, "A", "")
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.False(t, l.Active())

	_, err = l.Record(ctx, model.RoleUser, -1, 0, "A", "")
	assert.ErrorIs(t, err, cost.ErrNegativeTokens)
	assert.False(t, l.Active())
}

func TestSummaryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(store.NewMemory(), nil)
	_, err := l.Record(ctx, model.RoleUser, 1000, 0, "A", "hi")
	require.NoError(t, err)

	assert.Equal(t, l.Summary(), l.Summary())
}

func TestSummaryWithoutMessages(t *testing.T) {
	l := newLedger(store.NewMemory(), nil)
	sum := l.Summary()
	assert.False(t, sum.Active)
	assert.True(t, sum.AvgCostPerMessage.IsZero())
}

func TestStartTwice(t *testing.T) {
	ctx := context.Background()
	l := newLedger(store.NewMemory(), nil)
	_, err := l.Start(ctx, "A")
	require.NoError(t, err)
	_, err = l.Start(ctx, "A")
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestEndWithoutSession(t *testing.T) {
	_, err := newLedger(store.NewMemory(), nil).End(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestPersistenceFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	l := newLedger(failingStore{}, nil)

	_, err := l.Start(ctx, "A")
	require.NoError(t, err)
	_, err = l.Record(ctx, model.RoleUser, 1000, 0, "A", "hello")
	require.NoError(t, err)
	_, err = l.Record(ctx, model.RoleAssistant, 0, 2000, "A", "hi")
	require.NoError(t, err)

	assert.Equal(t, "0.005", l.Summary().TotalCost.String())
	_, err = l.End(ctx)
	assert.NoError(t, err)
}

func TestEndSkipsMissingBudgets(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBudgets{err: budget.ErrNoBudget}
	l := New(store.NewMemory(), testCalc(), fb, nil, Options{
		SpendBudgets: []model.BudgetType{model.BudgetDaily, model.BudgetTotal},
	})

	_, err := l.Record(ctx, model.RoleUser, 1000, 0, "A", "hello")
	require.NoError(t, err)
	_, err = l.End(ctx)
	require.NoError(t, err)

	require.Len(t, fb.calls, 2)
	assert.Equal(t, model.BudgetTotal, fb.calls[1].t)
}

func TestExcerptTruncation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := New(mem, testCalc(), nil, nil, Options{ExcerptLen: 4, ContentLen: 6})

	ev, err := l.Record(ctx, model.RoleUser, 1, 0, "A", "héllo wörld")
	require.NoError(t, err)
	assert.Equal(t, "héll", ev.ContentExcerpt)
	assert.Equal(t, "héll", l.Summary().Messages[0].ContentExcerpt)

	msgs, err := mem.ListMessages(ctx, l.SessionID())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "héllo ", msgs[0].ContentExcerpt)
}
