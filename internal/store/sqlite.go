package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// SQLite is the database-backed store.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the database at the given path.
func Open(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row. An existing id is left untouched.
func (s *SQLite) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(session_id, model_used, start_time, total_cost_picos, total_messages,
		 total_input_tokens, total_output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sess.SessionID, sess.Model, formatTime(sess.StartTime), toPicos(sess.TotalCost),
		sess.TotalMessages, sess.TotalInputTokens, sess.TotalOutputTokens,
	)
	return err
}

// AppendMessage inserts one message row.
func (s *SQLite) AppendMessage(ctx context.Context, m model.MessageEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(session_id, role, input_tokens, output_tokens, cost_picos, model_used, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, string(m.Role), m.InputTokens, m.OutputTokens, toPicos(m.Cost),
		m.Model, m.ContentExcerpt, formatTime(m.Timestamp),
	)
	return err
}

// UpdateSessionTotals writes the session's running totals, creating the row
// if an earlier insert was lost. A set EndTime closes the session.
func (s *SQLite) UpdateSessionTotals(ctx context.Context, sess model.Session) error {
	var endTime sql.NullString
	if sess.EndTime != nil {
		endTime = sql.NullString{String: formatTime(*sess.EndTime), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(session_id, model_used, start_time, end_time, total_cost_picos, total_messages,
		 total_input_tokens, total_output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			end_time = COALESCE(excluded.end_time, sessions.end_time),
			total_cost_picos = excluded.total_cost_picos,
			total_messages = excluded.total_messages,
			total_input_tokens = excluded.total_input_tokens,
			total_output_tokens = excluded.total_output_tokens`,
		sess.SessionID, sess.Model, formatTime(sess.StartTime), endTime, toPicos(sess.TotalCost),
		sess.TotalMessages, sess.TotalInputTokens, sess.TotalOutputTokens,
	)
	return err
}

const sessionColumns = `session_id, model_used, start_time, end_time, total_cost_picos,
	total_messages, total_input_tokens, total_output_tokens`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (model.Session, error) {
	var (
		sess      model.Session
		startStr  string
		endStr    sql.NullString
		costPicos int64
	)
	err := r.Scan(&sess.SessionID, &sess.Model, &startStr, &endStr, &costPicos,
		&sess.TotalMessages, &sess.TotalInputTokens, &sess.TotalOutputTokens)
	if err != nil {
		return sess, err
	}

	sess.StartTime = parseTime(startStr)
	if endStr.Valid && endStr.String != "" {
		end := parseTime(endStr.String)
		sess.EndTime = &end
	}
	sess.TotalCost = fromPicos(costPicos)
	return sess, nil
}

// GetSession loads one session by id.
func (s *SQLite) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE session_id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, ErrNotFound
	}
	return sess, err
}

// SessionsSince returns sessions started at or after since, newest first.
func (s *SQLite) SessionsSince(ctx context.Context, since time.Time) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+
		" FROM sessions WHERE start_time >= ? ORDER BY start_time DESC, session_id", formatTime(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListMessages returns a session's messages in insertion order.
func (s *SQLite) ListMessages(ctx context.Context, sessionID string) ([]model.MessageEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, role, input_tokens, output_tokens,
		cost_picos, model_used, content, created_at
		FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.MessageEvent
	for rows.Next() {
		var (
			m         model.MessageEvent
			role      string
			costPicos int64
			content   sql.NullString
			created   string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.InputTokens, &m.OutputTokens,
			&costPicos, &m.Model, &content, &created); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.Cost = fromPicos(costPicos)
		m.ContentExcerpt = content.String
		m.Timestamp = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

const budgetColumns = "id, budget_type, limit_picos, spent_picos, reset_date, is_active, created_at"

func scanBudget(r rowScanner) (model.Budget, error) {
	var (
		b                   model.Budget
		typ, reset, created string
		limit, spent        int64
		active              int
	)
	if err := r.Scan(&b.ID, &typ, &limit, &spent, &reset, &active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	b.Type = model.BudgetType(typ)
	b.Limit = fromPicos(limit)
	b.Spent = fromPicos(spent)
	b.ResetDate = parseDate(reset)
	b.Active = active != 0
	b.CreatedAt = parseTime(created)
	return b, nil
}

// CreateBudget deactivates any active budget of the same type and inserts
// the new one, in one transaction.
func (s *SQLite) CreateBudget(ctx context.Context, b model.Budget) (model.Budget, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE budgets SET is_active = 0 WHERE budget_type = ? AND is_active = 1", string(b.Type)); err != nil {
		return b, err
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO budgets
		(budget_type, limit_picos, spent_picos, reset_date, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		string(b.Type), toPicos(b.Limit), toPicos(b.Spent), formatDate(b.ResetDate), formatTime(b.CreatedAt),
	)
	if err != nil {
		return b, err
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return b, err
	}
	b.Active = true

	return b, tx.Commit()
}

// Budget returns the active budget of the given type.
func (s *SQLite) Budget(ctx context.Context, t model.BudgetType) (model.Budget, error) {
	return scanBudget(s.db.QueryRowContext(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE budget_type = ? AND is_active = 1", string(t)))
}

// Budgets returns every active budget.
func (s *SQLite) Budgets(ctx context.Context) ([]model.Budget, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+budgetColumns+` FROM budgets WHERE is_active = 1
		ORDER BY CASE budget_type WHEN 'daily' THEN 0 WHEN 'monthly' THEN 1 ELSE 2 END`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var budgets []model.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// AddBudgetSpent atomically adds amount to the active budget's spend and
// returns the updated budget.
func (s *SQLite) AddBudgetSpent(ctx context.Context, t model.BudgetType, amount decimal.Decimal) (model.Budget, error) {
	return scanBudget(s.db.QueryRowContext(ctx,
		"UPDATE budgets SET spent_picos = spent_picos + ? WHERE budget_type = ? AND is_active = 1 RETURNING "+budgetColumns,
		toPicos(amount), string(t)))
}

// ResetBudget zeroes the active budget's spend and sets its reset date.
func (s *SQLite) ResetBudget(ctx context.Context, t model.BudgetType, date time.Time) (model.Budget, error) {
	return scanBudget(s.db.QueryRowContext(ctx,
		"UPDATE budgets SET spent_picos = 0, reset_date = ? WHERE budget_type = ? AND is_active = 1 RETURNING "+budgetColumns,
		formatDate(date), string(t)))
}

// RollBudget resets the active budget only if its reset date is before
// periodStart. Reports whether a reset happened.
func (s *SQLite) RollBudget(ctx context.Context, t model.BudgetType, periodStart time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE budgets SET spent_picos = 0, reset_date = ? WHERE budget_type = ? AND is_active = 1 AND reset_date < ?",
		formatDate(periodStart), string(t), formatDate(periodStart))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateBudgetLimit changes the active budget's limit.
func (s *SQLite) UpdateBudgetLimit(ctx context.Context, t model.BudgetType, limit decimal.Decimal) (model.Budget, error) {
	return scanBudget(s.db.QueryRowContext(ctx,
		"UPDATE budgets SET limit_picos = ? WHERE budget_type = ? AND is_active = 1 RETURNING "+budgetColumns,
		toPicos(limit), string(t)))
}

// DeactivateBudget marks the active budget of the given type inactive.
func (s *SQLite) DeactivateBudget(ctx context.Context, t model.BudgetType) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE budgets SET is_active = 0 WHERE budget_type = ? AND is_active = 1", string(t))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
