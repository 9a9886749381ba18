// Package budget tracks spend ceilings and classifies them against fixed thresholds.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/logging"
	"github.com/theirongolddev/chatmeter/internal/metrics"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/store"
)

var (
	ErrNoBudget       = errors.New("no active budget")
	ErrInvalidType    = errors.New("invalid budget type")
	ErrInvalidLimit   = errors.New("budget limit must be positive")
	ErrNegativeAmount = errors.New("spend amount must not be negative")
)

var (
	warnRatio   = decimal.RequireFromString("0.8")
	exceedRatio = decimal.NewFromInt(1)
	hundred     = decimal.NewFromInt(100)
)

// projectionWindow is the trailing window Project averages over.
const projectionWindow = 7

// Store is the persistence the tracker reads and mutates.
type Store interface {
	CreateBudget(ctx context.Context, b model.Budget) (model.Budget, error)
	Budget(ctx context.Context, t model.BudgetType) (model.Budget, error)
	Budgets(ctx context.Context) ([]model.Budget, error)
	AddBudgetSpent(ctx context.Context, t model.BudgetType, amount decimal.Decimal) (model.Budget, error)
	ResetBudget(ctx context.Context, t model.BudgetType, date time.Time) (model.Budget, error)
	RollBudget(ctx context.Context, t model.BudgetType, periodStart time.Time) (bool, error)
	UpdateBudgetLimit(ctx context.Context, t model.BudgetType, limit decimal.Decimal) (model.Budget, error)
	DeactivateBudget(ctx context.Context, t model.BudgetType) error
	SessionsSince(ctx context.Context, since time.Time) ([]model.Session, error)
}

// Options tunes a Tracker.
type Options struct {
	AutoRollover bool
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

// Tracker manages daily, monthly and total budgets. Spend increments are
// delegated to the store as a single atomic update.
type Tracker struct {
	store Store
	log   *zap.Logger
	opts  Options
}

// NewTracker creates a Tracker over s.
func NewTracker(s Store, logger *zap.Logger, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{store: s, log: logging.OrNop(logger), opts: opts}
}

func (t *Tracker) today() time.Time {
	now := t.opts.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// periodStart returns the date a budget of type bt must not be older than.
// Total budgets have no period.
func (t *Tracker) periodStart(bt model.BudgetType) (time.Time, bool) {
	today := t.today()
	switch bt {
	case model.BudgetDaily:
		return today, true
	case model.BudgetMonthly:
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()), true
	}
	return time.Time{}, false
}

func validType(bt model.BudgetType) error {
	if !bt.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, bt)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoBudget
	}
	return err
}

// Create sets a new active budget of type bt, replacing any existing one.
func (t *Tracker) Create(ctx context.Context, bt model.BudgetType, limit decimal.Decimal) (model.BudgetStatus, error) {
	if err := validType(bt); err != nil {
		return model.BudgetStatus{}, err
	}
	if !limit.IsPositive() {
		return model.BudgetStatus{}, ErrInvalidLimit
	}
	b, err := t.store.CreateBudget(ctx, model.Budget{
		Type:      bt,
		Limit:     limit,
		Spent:     decimal.Zero,
		ResetDate: t.today(),
		Active:    true,
		CreatedAt: t.opts.Now(),
	})
	if err != nil {
		return model.BudgetStatus{}, fmt.Errorf("creating %s budget: %w", bt, err)
	}
	t.log.Info("budget set", zap.String("budget_type", string(bt)), zap.String("limit", limit.StringFixed(2)))
	return t.observe(Evaluate(b)), nil
}

// Rollover resets daily and monthly budgets whose period has passed and
// returns the types that were reset.
func (t *Tracker) Rollover(ctx context.Context) ([]model.BudgetType, error) {
	var rolled []model.BudgetType
	for _, bt := range []model.BudgetType{model.BudgetDaily, model.BudgetMonthly} {
		ok, err := t.roll(ctx, bt)
		if err != nil {
			return rolled, err
		}
		if ok {
			rolled = append(rolled, bt)
		}
	}
	return rolled, nil
}

func (t *Tracker) roll(ctx context.Context, bt model.BudgetType) (bool, error) {
	start, ok := t.periodStart(bt)
	if !ok {
		return false, nil
	}
	rolled, err := t.store.RollBudget(ctx, bt, start)
	if err != nil {
		return false, fmt.Errorf("rolling %s budget: %w", bt, err)
	}
	if rolled {
		t.log.Info("budget period rolled over", zap.String("budget_type", string(bt)))
	}
	return rolled, nil
}

func (t *Tracker) maybeRoll(ctx context.Context, bt model.BudgetType) {
	if !t.opts.AutoRollover {
		return
	}
	if _, err := t.roll(ctx, bt); err != nil {
		t.log.Warn("budget rollover failed", zap.Error(err))
	}
}

// Status evaluates the active budget of type bt. A missing budget yields
// the no_budget state, not an error.
func (t *Tracker) Status(ctx context.Context, bt model.BudgetType) (model.BudgetStatus, error) {
	if err := validType(bt); err != nil {
		return model.BudgetStatus{}, err
	}
	t.maybeRoll(ctx, bt)

	b, err := t.store.Budget(ctx, bt)
	if errors.Is(err, store.ErrNotFound) {
		return NoBudget(bt), nil
	}
	if err != nil {
		return model.BudgetStatus{}, fmt.Errorf("loading %s budget: %w", bt, err)
	}
	return t.observe(Evaluate(b)), nil
}

// Statuses evaluates every active budget in display order.
func (t *Tracker) Statuses(ctx context.Context) ([]model.BudgetStatus, error) {
	if t.opts.AutoRollover {
		if _, err := t.Rollover(ctx); err != nil {
			t.log.Warn("budget rollover failed", zap.Error(err))
		}
	}
	budgets, err := t.store.Budgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading budgets: %w", err)
	}
	out := make([]model.BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, t.observe(Evaluate(b)))
	}
	return out, nil
}

// ApplySpend atomically adds amount to the active budget of type bt.
func (t *Tracker) ApplySpend(ctx context.Context, bt model.BudgetType, amount decimal.Decimal) (model.BudgetStatus, error) {
	if err := validType(bt); err != nil {
		return model.BudgetStatus{}, err
	}
	if amount.IsNegative() {
		return model.BudgetStatus{}, ErrNegativeAmount
	}
	t.maybeRoll(ctx, bt)

	b, err := t.store.AddBudgetSpent(ctx, bt, amount)
	if err != nil {
		return model.BudgetStatus{}, notFound(err)
	}
	st := t.observe(Evaluate(b))
	if st.State == model.StateWarning || st.State == model.StateExceeded {
		t.log.Warn("budget threshold reached",
			zap.String("budget_type", string(bt)),
			zap.String("state", string(st.State)),
			zap.Float64("percentage_used", st.PercentageUsed),
		)
	}
	return st, nil
}

// Reset zeroes the spend of the active budget of type bt and dates it today.
func (t *Tracker) Reset(ctx context.Context, bt model.BudgetType) (model.BudgetStatus, error) {
	if err := validType(bt); err != nil {
		return model.BudgetStatus{}, err
	}
	b, err := t.store.ResetBudget(ctx, bt, t.today())
	if err != nil {
		return model.BudgetStatus{}, notFound(err)
	}
	return t.observe(Evaluate(b)), nil
}

// UpdateLimit changes the limit of the active budget of type bt.
func (t *Tracker) UpdateLimit(ctx context.Context, bt model.BudgetType, limit decimal.Decimal) (model.BudgetStatus, error) {
	if err := validType(bt); err != nil {
		return model.BudgetStatus{}, err
	}
	if !limit.IsPositive() {
		return model.BudgetStatus{}, ErrInvalidLimit
	}
	b, err := t.store.UpdateBudgetLimit(ctx, bt, limit)
	if err != nil {
		return model.BudgetStatus{}, notFound(err)
	}
	return t.observe(Evaluate(b)), nil
}

// Remove deactivates the active budget of type bt.
func (t *Tracker) Remove(ctx context.Context, bt model.BudgetType) error {
	if err := validType(bt); err != nil {
		return err
	}
	return notFound(t.store.DeactivateBudget(ctx, bt))
}

// Project extrapolates the trailing week's average daily spend daysAhead days.
func (t *Tracker) Project(ctx context.Context, bt model.BudgetType, daysAhead int) (model.Projection, error) {
	if err := validType(bt); err != nil {
		return model.Projection{}, err
	}
	if daysAhead <= 0 {
		daysAhead = projectionWindow
	}

	since := t.opts.Now().AddDate(0, 0, -projectionWindow)
	sessions, err := t.store.SessionsSince(ctx, since)
	if err != nil {
		return model.Projection{}, fmt.Errorf("loading recent sessions: %w", err)
	}

	p := model.Projection{
		Type:       bt,
		DaysAhead:  daysAhead,
		AvgDaily:   decimal.Zero,
		Projected:  decimal.Zero,
		Limit:      decimal.Zero,
		Confidence: "low",
	}
	if len(sessions) == 0 {
		p.Message = "No recent data available for projection"
		return p, nil
	}

	total := decimal.Zero
	days := make(map[string]struct{})
	for _, s := range sessions {
		total = total.Add(s.TotalCost)
		days[s.StartTime.Local().Format("2006-01-02")] = struct{}{}
	}
	p.DataDays = len(days)
	p.AvgDaily = total.Div(decimal.NewFromInt(projectionWindow))
	p.Projected = p.AvgDaily.Mul(decimal.NewFromInt(int64(daysAhead)))
	p.Confidence = confidence(p.DataDays)

	st, err := t.Status(ctx, bt)
	if err != nil {
		return model.Projection{}, err
	}
	if st.State != model.StateNoBudget {
		p.HasBudget = true
		p.Limit = st.Limit
		p.WillExceed = p.Projected.GreaterThan(st.Limit)
	}
	p.Message = fmt.Sprintf("Projected spending: $%s over %d days", p.Projected.StringFixed(2), daysAhead)
	return p, nil
}

func confidence(distinctDays int) string {
	switch {
	case distinctDays >= 5:
		return "high"
	case distinctDays >= 3:
		return "medium"
	}
	return "low"
}

// SpendingSummary totals session spend over the last days days.
func (t *Tracker) SpendingSummary(ctx context.Context, days int) (model.SpendingSummary, error) {
	if days < 1 {
		days = 1
	}
	sessions, err := t.store.SessionsSince(ctx, t.opts.Now().AddDate(0, 0, -days))
	if err != nil {
		return model.SpendingSummary{}, fmt.Errorf("loading sessions: %w", err)
	}

	total := decimal.Zero
	for _, s := range sessions {
		total = total.Add(s.TotalCost)
	}
	avg := total.Div(decimal.NewFromInt(int64(days)))

	daily, err := t.Status(ctx, model.BudgetDaily)
	if err != nil {
		return model.SpendingSummary{}, err
	}
	monthly, err := t.Status(ctx, model.BudgetMonthly)
	if err != nil {
		return model.SpendingSummary{}, err
	}

	return model.SpendingSummary{
		Days:             days,
		Sessions:         len(sessions),
		TotalSpent:       total,
		DailyAverage:     avg,
		ProjectedMonthly: avg.Mul(decimal.NewFromInt(30)),
		Daily:            daily,
		Monthly:          monthly,
	}, nil
}

// Alerts returns one alert per active budget in warning or exceeded state.
func (t *Tracker) Alerts(ctx context.Context) ([]model.BudgetAlert, error) {
	statuses, err := t.Statuses(ctx)
	if err != nil {
		return nil, err
	}
	var alerts []model.BudgetAlert
	for _, st := range statuses {
		var severity string
		switch st.State {
		case model.StateExceeded:
			severity = "critical"
		case model.StateWarning:
			severity = "warning"
		default:
			continue
		}
		alerts = append(alerts, model.BudgetAlert{
			Type:     st.Type,
			Severity: severity,
			Message:  fmt.Sprintf("%s budget: %s", st.Type, st.Message),
			Status:   st,
		})
	}
	return alerts, nil
}

func (t *Tracker) observe(st model.BudgetStatus) model.BudgetStatus {
	t.opts.Metrics.ObserveBudget(st)
	return st
}

// NoBudget is the status reported when no budget of type bt is active.
func NoBudget(bt model.BudgetType) model.BudgetStatus {
	return model.BudgetStatus{
		Type:      bt,
		State:     model.StateNoBudget,
		Limit:     decimal.Zero,
		Spent:     decimal.Zero,
		Remaining: decimal.Zero,
		Message:   "No budget set",
	}
}

// Evaluate classifies b: spent/limit >= 1 is exceeded, >= 0.8 is warning,
// anything lower is within_limit.
func Evaluate(b model.Budget) model.BudgetStatus {
	ratio := decimal.Zero
	if b.Limit.IsPositive() {
		ratio = b.Spent.Div(b.Limit)
	}
	pct := ratio.Mul(hundred).InexactFloat64()

	st := model.BudgetStatus{
		Type:           b.Type,
		Limit:          b.Limit,
		Spent:          b.Spent,
		Remaining:      b.Limit.Sub(b.Spent),
		PercentageUsed: pct,
		ResetDate:      b.ResetDate,
	}
	switch {
	case ratio.GreaterThanOrEqual(exceedRatio):
		st.State = model.StateExceeded
		st.Message = fmt.Sprintf("Budget exceeded (%.1f%% used)", pct)
	case ratio.GreaterThanOrEqual(warnRatio):
		st.State = model.StateWarning
		st.Message = fmt.Sprintf("Approaching budget limit (%.1f%% used)", pct)
	default:
		st.State = model.StateWithinLimit
		st.Message = fmt.Sprintf("Within budget (%.1f%% used)", pct)
	}
	return st
}
