package analytics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/pipeline"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{
	"session_id", "model_used", "start_time", "end_time", "total_cost",
	"total_messages", "total_input_tokens", "total_output_tokens",
}

// Report is the JSON export document.
type Report struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Days        int                        `json:"period_days"`
	Efficiency  model.EfficiencyReport     `json:"efficiency"`
	Daily       []model.DailyStats         `json:"daily"`
	Sessions    []pipeline.SessionMessages `json:"sessions"`
}

// Export writes the window's sessions to w as CSV, or a full JSON report
// including every session's messages.
func (a *Aggregator) Export(ctx context.Context, w io.Writer, format string, days int) error {
	sessions, err := a.sessions(ctx, days)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return ErrNoData
	}

	switch format {
	case FormatCSV:
		return writeCSV(w, sessions)
	case FormatJSON:
		return a.writeJSON(ctx, w, sessions, days)
	}
	return fmt.Errorf("unsupported export format %q (use csv or json)", format)
}

func writeCSV(w io.Writer, sessions []model.Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range sessions {
		end := ""
		if s.EndTime != nil {
			end = s.EndTime.Local().Format(time.DateTime)
		}
		record := []string{
			s.SessionID,
			s.Model,
			s.StartTime.Local().Format(time.DateTime),
			end,
			s.TotalCost.String(),
			strconv.Itoa(s.TotalMessages),
			strconv.FormatInt(s.TotalInputTokens, 10),
			strconv.FormatInt(s.TotalOutputTokens, 10),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (a *Aggregator) writeJSON(ctx context.Context, w io.Writer, sessions []model.Session, days int) error {
	detailed, err := pipeline.LoadMessages(ctx, a.store, sessions, nil)
	if err != nil {
		return err
	}
	report, err := a.EfficiencyReport(ctx, days)
	if err != nil {
		return err
	}
	daily, err := a.DailyTrend(ctx, days)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Report{
		GeneratedAt: a.opts.Now(),
		Days:        days,
		Efficiency:  report,
		Daily:       daily,
		Sessions:    detailed,
	})
}
