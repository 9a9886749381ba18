package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/chatmeter/internal/model"
)

func syntheticSessions(n int) []model.Session {
	models := []string{"claude-3.5-sonnet", "gpt-4o", "gpt-4o-mini", "claude-3-haiku"}
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.Local)
	out := make([]model.Session, n)
	for i := range out {
		out[i] = model.Session{
			SessionID:         fmt.Sprintf("session_%06d", i),
			Model:             models[i%len(models)],
			StartTime:         start.Add(time.Duration(i) * 17 * time.Minute),
			TotalCost:         decimal.New(int64(1000+i%500), -6),
			TotalMessages:     2 + i%9,
			TotalInputTokens:  int64(300 + i%700),
			TotalOutputTokens: int64(400 + i%900),
		}
	}
	return out
}

func BenchmarkAggregate(b *testing.B) {
	sessions := syntheticSessions(20000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Aggregate(sessions, time.Time{}, time.Time{})
	}
}

func BenchmarkAggregateDays(b *testing.B) {
	sessions := syntheticSessions(20000)
	since := sessions[0].StartTime
	until := sessions[len(sessions)-1].StartTime
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = AggregateDays(sessions, since, until)
	}
}

func BenchmarkAggregateModels(b *testing.B) {
	sessions := syntheticSessions(20000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = AggregateModels(sessions, time.Time{}, time.Time{})
	}
}
