package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/model"
)

// Memory is an in-process store with the same semantics as SQLite.
// Used for --no-db runs and tests.
type Memory struct {
	mu           sync.RWMutex
	sessions     map[string]model.Session
	messages     map[string][]model.MessageEvent
	budgets      []model.Budget
	nextMsgID    int64
	nextBudgetID int64
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]model.Session),
		messages: make(map[string][]model.MessageEvent),
	}
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// CreateSession stores a new session. An existing id is left untouched.
func (m *Memory) CreateSession(_ context.Context, sess model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.SessionID]; !exists {
		m.sessions[sess.SessionID] = copySession(sess)
	}
	return nil
}

// AppendMessage stores one message. The session must exist.
func (m *Memory) AppendMessage(_ context.Context, msg model.MessageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrNotFound
	}
	m.nextMsgID++
	msg.ID = m.nextMsgID
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

// UpdateSessionTotals upserts the session's running totals.
func (m *Memory) UpdateSessionTotals(_ context.Context, sess model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[sess.SessionID]
	if ok && sess.EndTime == nil {
		sess.EndTime = existing.EndTime
	}
	if ok {
		sess.Model = existing.Model
		sess.StartTime = existing.StartTime
	}
	m.sessions[sess.SessionID] = copySession(sess)
	return nil
}

// GetSession returns a copy of one session.
func (m *Memory) GetSession(_ context.Context, id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return copySession(sess), nil
}

// SessionsSince returns sessions started at or after since, newest first.
func (m *Memory) SessionsSince(_ context.Context, since time.Time) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Session
	for _, sess := range m.sessions {
		if !sess.StartTime.Before(since) {
			out = append(out, copySession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// ListMessages returns a session's messages in insertion order.
func (m *Memory) ListMessages(_ context.Context, sessionID string) ([]model.MessageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	out := make([]model.MessageEvent, len(msgs))
	copy(out, msgs)
	return out, nil
}

// CreateBudget deactivates any active budget of the same type and stores b.
func (m *Memory) CreateBudget(_ context.Context, b model.Budget) (model.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.budgets {
		if m.budgets[i].Type == b.Type && m.budgets[i].Active {
			m.budgets[i].Active = false
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	m.nextBudgetID++
	b.ID = m.nextBudgetID
	b.Active = true
	m.budgets = append(m.budgets, b)
	return b, nil
}

func (m *Memory) activeIndex(t model.BudgetType) int {
	for i, b := range m.budgets {
		if b.Type == t && b.Active {
			return i
		}
	}
	return -1
}

// Budget returns the active budget of the given type.
func (m *Memory) Budget(_ context.Context, t model.BudgetType) (model.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.activeIndex(t)
	if i < 0 {
		return model.Budget{}, ErrNotFound
	}
	return m.budgets[i], nil
}

// Budgets returns every active budget in daily, monthly, total order.
func (m *Memory) Budgets(_ context.Context) ([]model.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Budget
	for _, t := range model.BudgetTypes {
		if i := m.activeIndex(t); i >= 0 {
			out = append(out, m.budgets[i])
		}
	}
	return out, nil
}

func (m *Memory) mutateBudget(t model.BudgetType, fn func(b *model.Budget)) (model.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.activeIndex(t)
	if i < 0 {
		return model.Budget{}, ErrNotFound
	}
	fn(&m.budgets[i])
	return m.budgets[i], nil
}

// AddBudgetSpent adds amount to the active budget's spend.
func (m *Memory) AddBudgetSpent(_ context.Context, t model.BudgetType, amount decimal.Decimal) (model.Budget, error) {
	return m.mutateBudget(t, func(b *model.Budget) {
		b.Spent = b.Spent.Add(amount)
	})
}

// ResetBudget zeroes the active budget's spend and sets its reset date.
func (m *Memory) ResetBudget(_ context.Context, t model.BudgetType, date time.Time) (model.Budget, error) {
	return m.mutateBudget(t, func(b *model.Budget) {
		b.Spent = decimal.Zero
		b.ResetDate = date
	})
}

// RollBudget resets the active budget if its reset date is before periodStart.
func (m *Memory) RollBudget(_ context.Context, t model.BudgetType, periodStart time.Time) (bool, error) {
	rolled := false
	_, err := m.mutateBudget(t, func(b *model.Budget) {
		if formatDate(b.ResetDate) < formatDate(periodStart) {
			b.Spent = decimal.Zero
			b.ResetDate = periodStart
			rolled = true
		}
	})
	if err == ErrNotFound {
		return false, nil
	}
	return rolled, err
}

// UpdateBudgetLimit changes the active budget's limit.
func (m *Memory) UpdateBudgetLimit(_ context.Context, t model.BudgetType, limit decimal.Decimal) (model.Budget, error) {
	return m.mutateBudget(t, func(b *model.Budget) {
		b.Limit = limit
	})
}

// DeactivateBudget marks the active budget of the given type inactive.
func (m *Memory) DeactivateBudget(_ context.Context, t model.BudgetType) error {
	_, err := m.mutateBudget(t, func(b *model.Budget) {
		b.Active = false
	})
	return err
}

func copySession(s model.Session) model.Session {
	if s.EndTime != nil {
		end := *s.EndTime
		s.EndTime = &end
	}
	return s
}
