// Package ledger tracks the running cost of one chat session and persists it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/budget"
	"github.com/theirongolddev/chatmeter/internal/cost"
	"github.com/theirongolddev/chatmeter/internal/logging"
	"github.com/theirongolddev/chatmeter/internal/metrics"
	"github.com/theirongolddev/chatmeter/internal/model"
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionActive   = errors.New("session already active")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrNoModel         = errors.New("no model for message")
)

// Store is the persistence the ledger writes through.
type Store interface {
	CreateSession(ctx context.Context, sess model.Session) error
	AppendMessage(ctx context.Context, msg model.MessageEvent) error
	UpdateSessionTotals(ctx context.Context, sess model.Session) error
}

// SpendApplier receives the session cost when a session ends.
type SpendApplier interface {
	ApplySpend(ctx context.Context, t model.BudgetType, amount decimal.Decimal) (model.BudgetStatus, error)
}

// Options tunes a Ledger. Zero values take defaults.
type Options struct {
	// DefaultModel prices a message that names no model when no session is active.
	DefaultModel string
	SpendBudgets []model.BudgetType
	ExcerptLen   int
	ContentLen   int
	StoreTimeout time.Duration
	Now          func() time.Time
	NewID        func(now time.Time) string
	Metrics      *metrics.Metrics
}

// Ledger is the in-memory source of truth for the active session.
// Store failures are logged and never roll back in-memory state.
type Ledger struct {
	store   Store
	calc    *cost.Calculator
	budgets SpendApplier
	log     *zap.Logger
	opts    Options

	mu       sync.Mutex
	active   bool
	sess     model.Session
	messages []model.MessageEvent
}

// New creates a Ledger. budgets may be nil, in which case no spend is applied.
func New(store Store, calc *cost.Calculator, budgets SpendApplier, logger *zap.Logger, opts Options) *Ledger {
	if opts.SpendBudgets == nil {
		opts.SpendBudgets = []model.BudgetType{model.BudgetDaily}
	}
	if opts.ExcerptLen <= 0 {
		opts.ExcerptLen = 100
	}
	if opts.ContentLen <= 0 {
		opts.ContentLen = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewSessionID
	}
	return &Ledger{
		store:   store,
		calc:    calc,
		budgets: budgets,
		log:     logging.OrNop(logger),
		opts:    opts,
	}
}

// NewSessionID returns an id of the form session_YYYYMMDD_HHMMSS_<8 hex>.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("session_%s_%s", now.Format("20060102_150405"), suffix)
}

// Start opens a new session for modelID.
func (l *Ledger) Start(ctx context.Context, modelID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return "", ErrSessionActive
	}
	return l.startLocked(ctx, modelID), nil
}

func (l *Ledger) startLocked(ctx context.Context, modelID string) string {
	now := l.opts.Now()
	l.sess = model.Session{
		SessionID: l.opts.NewID(now),
		Model:     modelID,
		StartTime: now,
		TotalCost: decimal.Zero,
	}
	l.messages = nil
	l.active = true

	l.persist(ctx, "create_session", func(ctx context.Context) error {
		return l.store.CreateSession(ctx, l.sess)
	})
	l.log.Debug("session started", zap.String("session_id", l.sess.SessionID), zap.String("model", modelID))
	return l.sess.SessionID
}

// ensureActive opens a session when none is active.
func (l *Ledger) ensureActive(ctx context.Context, modelID string) {
	if !l.active {
		l.startLocked(ctx, modelID)
	}
}

// Record prices and logs one message. An empty modelID uses the session
// model, or Options.DefaultModel when no session is active.
func (l *Ledger) Record(ctx context.Context, role model.Role, inputTokens, outputTokens int64, modelID, content string) (model.MessageEvent, error) {
	if !role.Valid() {
		return model.MessageEvent{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if modelID == "" {
		if l.active {
			modelID = l.sess.Model
		} else {
			modelID = l.opts.DefaultModel
		}
	}
	if modelID == "" {
		return model.MessageEvent{}, ErrNoModel
	}
	bd, err := l.calc.Calculate(modelID, inputTokens, outputTokens)
	if err != nil {
		return model.MessageEvent{}, err
	}

	l.ensureActive(ctx, modelID)

	ev := model.MessageEvent{
		SessionID:      l.sess.SessionID,
		Role:           role,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		Cost:           bd.TotalCost,
		Model:          modelID,
		Timestamp:      l.opts.Now(),
		ContentExcerpt: truncate(content, l.opts.ContentLen),
	}
	l.persist(ctx, "append_message", func(ctx context.Context) error {
		return l.store.AppendMessage(ctx, ev)
	})

	ev.ContentExcerpt = truncate(content, l.opts.ExcerptLen)
	l.messages = append(l.messages, ev)
	l.sess.TotalCost = l.sess.TotalCost.Add(bd.TotalCost)
	l.sess.TotalMessages++
	l.sess.TotalInputTokens += inputTokens
	l.sess.TotalOutputTokens += outputTokens

	snapshot := l.sess
	l.persist(ctx, "update_session_totals", func(ctx context.Context) error {
		return l.store.UpdateSessionTotals(ctx, snapshot)
	})
	l.opts.Metrics.ObserveMessage(ev)

	return ev, nil
}

// Summary returns the in-memory totals. Zero-valued when no session is active.
func (l *Ledger) Summary() model.SessionSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := make([]model.MessageEvent, len(l.messages))
	copy(msgs, l.messages)

	n := l.sess.TotalMessages
	if n < 1 {
		n = 1
	}
	return model.SessionSummary{
		SessionID:         l.sess.SessionID,
		Model:             l.sess.Model,
		Active:            l.active,
		StartTime:         l.sess.StartTime,
		TotalCost:         l.sess.TotalCost,
		TotalMessages:     l.sess.TotalMessages,
		TotalInputTokens:  l.sess.TotalInputTokens,
		TotalOutputTokens: l.sess.TotalOutputTokens,
		AvgCostPerMessage: l.sess.TotalCost.Div(decimal.NewFromInt(int64(n))),
		Messages:          msgs,
	}
}

// End closes the session, persists final totals and applies the session
// cost to the configured budgets. It returns the closed session.
func (l *Ledger) End(ctx context.Context) (model.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return model.Session{}, ErrNoActiveSession
	}

	end := l.opts.Now()
	final := l.sess
	final.EndTime = &end
	l.persist(ctx, "close_session", func(ctx context.Context) error {
		return l.store.UpdateSessionTotals(ctx, final)
	})

	if l.budgets != nil && final.TotalCost.IsPositive() {
		for _, t := range l.opts.SpendBudgets {
			l.applySpend(ctx, final, t)
		}
	}

	l.active = false
	l.sess = model.Session{}
	l.messages = nil
	l.opts.Metrics.SessionClosed()
	l.log.Debug("session ended",
		zap.String("session_id", final.SessionID),
		zap.String("cost", final.TotalCost.String()),
		zap.Int("messages", final.TotalMessages),
	)
	return final, nil
}

func (l *Ledger) applySpend(ctx context.Context, sess model.Session, t model.BudgetType) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()

	_, err := l.budgets.ApplySpend(ctx, t, sess.TotalCost)
	switch {
	case err == nil:
	case errors.Is(err, budget.ErrNoBudget):
		l.log.Debug("no budget to charge", zap.String("budget_type", string(t)))
	default:
		l.opts.Metrics.PersistFailed("apply_spend")
		l.log.Warn("failed to persist budget spend",
			zap.Error(err),
			zap.String("session_id", sess.SessionID),
			zap.String("budget_type", string(t)),
		)
	}
}

// Active reports whether a session is open.
func (l *Ledger) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// SessionID returns the open session id, or "".
func (l *Ledger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return ""
	}
	return l.sess.SessionID
}

func (l *Ledger) persist(ctx context.Context, op string, fn func(context.Context) error) {
	ctx, cancel := l.storeContext(ctx)
	defer cancel()
	if err := fn(ctx); err != nil {
		l.opts.Metrics.PersistFailed(op)
		l.log.Warn("failed to persist "+strings.ReplaceAll(op, "_", " "),
			zap.Error(err),
			zap.String("session_id", l.sess.SessionID),
		)
	}
}

func (l *Ledger) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opts.StoreTimeout > 0 {
		return context.WithTimeout(ctx, l.opts.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
