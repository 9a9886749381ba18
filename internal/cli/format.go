// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)
	ten      = decimal.NewFromInt(10)
	cent     = decimal.RequireFromString("0.01")
)

// FormatTokens formats a token count with human-readable suffixes.
// e.g., 1234 -> "1.2K", 1234567 -> "1.2M", 1234567890 -> "1.2B"
func FormatTokens(n int64) string {
	abs := n
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return strconv.FormatInt(n, 10)
	}
}

// FormatCost formats a USD amount. Sub-cent amounts keep four decimals so
// per-message costs stay visible.
func FormatCost(cost decimal.Decimal) string {
	if cost.IsNegative() {
		return "-" + FormatCost(cost.Neg())
	}
	switch {
	case cost.GreaterThanOrEqual(thousand):
		return "$" + FormatNumber(cost.Round(0).IntPart())
	case cost.GreaterThanOrEqual(hundred):
		return "$" + cost.StringFixed(0)
	case cost.GreaterThanOrEqual(ten):
		return "$" + cost.StringFixed(1)
	case cost.IsZero(), cost.GreaterThanOrEqual(cent):
		return "$" + cost.StringFixed(2)
	}
	return "$" + cost.StringFixed(4)
}

// FormatUSD formats an amount with a fixed number of decimals.
func FormatUSD(cost decimal.Decimal, places int32) string {
	if cost.IsNegative() {
		return "-$" + cost.Neg().StringFixed(places)
	}
	return "$" + cost.StringFixed(places)
}

// FormatRate formats a per-million-token price.
func FormatRate(rate decimal.Decimal) string {
	return "$" + rate.StringFixed(2) + "/M"
}

// FormatDuration formats seconds into a human-readable duration.
// e.g., 3725 -> "1h 2m", 125 -> "2m", 45 -> "45s"
func FormatDuration(secs int64) string {
	if secs <= 0 {
		return "0s"
	}

	hours := secs / 3600
	mins := (secs % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}

// FormatSessionDuration returns the length of a session, or "open" when it
// has not ended.
func FormatSessionDuration(start time.Time, end *time.Time) string {
	if end == nil {
		return "open"
	}
	return FormatDuration(int64(end.Sub(start).Seconds()))
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatPercent formats a 0-100 value as a percentage string.
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}

// FormatDelta formats a cost delta with sign.
func FormatDelta(current, previous decimal.Decimal) string {
	delta := current.Sub(previous)
	if delta.IsNegative() {
		return "-" + FormatCost(delta.Neg())
	}
	return "+" + FormatCost(delta)
}

// FormatDayOfWeek returns a 3-letter day abbreviation from a weekday number.
func FormatDayOfWeek(weekday int) string {
	days := []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	if weekday >= 0 && weekday < 7 {
		return days[weekday]
	}
	return "???"
}
