// Package store persists sessions, messages and budgets.
package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a session or active budget does not exist.
var ErrNotFound = errors.New("store: not found")

const dateLayout = "2006-01-02"

// MoneyScale is the number of decimal places money keeps in storage. A
// per-million rate with up to six decimals prices any token count exactly.
const MoneyScale = 12

func toPicos(d decimal.Decimal) int64 {
	return d.Shift(MoneyScale).Round(0).IntPart()
}

func fromPicos(n int64) decimal.Decimal {
	return decimal.New(n, -MoneyScale)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.ParseInLocation(dateLayout, s, time.Local)
	return t
}
