package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/chatmeter/internal/analytics"
	"github.com/theirongolddev/chatmeter/internal/budget"
	"github.com/theirongolddev/chatmeter/internal/config"
	"github.com/theirongolddev/chatmeter/internal/cost"
	"github.com/theirongolddev/chatmeter/internal/metrics"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/store"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

type fixture struct {
	svc     *Service
	mem     *store.Memory
	tracker *budget.Tracker
}

func newFixture(t *testing.T, gatherer prometheus.Gatherer) fixture {
	t.Helper()
	clock := func() time.Time { return now }
	mem := store.NewMemory()
	calc := cost.NewCalculator(config.FallbackTable())
	agg := analytics.New(mem, calc, nil, analytics.Options{Now: clock})
	tracker := budget.NewTracker(mem, nil, budget.Options{Now: clock})

	svc := New(Config{Days: 7, EventsBuffer: 10}, agg, tracker, gatherer, nil)
	svc.now = clock
	return fixture{svc: svc, mem: mem, tracker: tracker}
}

func (f fixture) addSession(t *testing.T, id string, costUSD string, messages int) {
	t.Helper()
	require.NoError(t, f.mem.CreateSession(context.Background(), model.Session{
		SessionID:         id,
		Model:             "gpt-4o-mini",
		StartTime:         now.Add(-time.Hour),
		TotalCost:         decimal.RequireFromString(costUSD),
		TotalMessages:     messages,
		TotalInputTokens:  100,
		TotalOutputTokens: 50,
	}))
}

func (f fixture) eventTypes() []string {
	f.svc.mu.RLock()
	defer f.svc.mu.RUnlock()
	out := make([]string, 0, len(f.svc.events))
	for _, ev := range f.svc.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestDiffSnapshots(t *testing.T) {
	prev := Snapshot{Sessions: 10, Messages: 100, Tokens: 1_000_000, CostUSD: decimal.RequireFromString("10.5")}
	curr := Snapshot{Sessions: 12, Messages: 112, Tokens: 1_250_000, CostUSD: decimal.RequireFromString("13.1")}

	delta := diffSnapshots(prev, curr)
	assert.Equal(t, 2, delta.Sessions)
	assert.Equal(t, 12, delta.Messages)
	assert.Equal(t, int64(250_000), delta.Tokens)
	assert.True(t, decimal.RequireFromString("2.6").Equal(delta.CostUSD), delta.CostUSD.String())
	assert.False(t, delta.isZero())
	assert.True(t, diffSnapshots(curr, curr).isZero())
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{Interval: 10 * time.Second, EventsBuffer: 2}, nil, nil, nil, nil)

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	require.Len(t, s.events, 2)
	assert.Equal(t, int64(2), s.events[0].ID)
	assert.Equal(t, int64(3), s.events[1].ID)
}

func TestPollOnceEmitsSnapshotThenDeltas(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addSession(t, "s1", "0.5", 4)

	f.svc.PollOnce(ctx)
	assert.Equal(t, []string{EventSnapshot}, f.eventTypes())

	// unchanged usage publishes nothing
	f.svc.PollOnce(ctx)
	assert.Equal(t, []string{EventSnapshot}, f.eventTypes())

	f.addSession(t, "s2", "0.25", 2)
	f.svc.PollOnce(ctx)
	assert.Equal(t, []string{EventSnapshot, EventUsageDelta}, f.eventTypes())

	f.svc.mu.RLock()
	last := f.svc.events[len(f.svc.events)-1]
	f.svc.mu.RUnlock()
	assert.Equal(t, 1, last.Delta.Sessions)
	assert.Equal(t, 2, last.Delta.Messages)
	assert.True(t, decimal.RequireFromString("0.25").Equal(last.Delta.CostUSD))
	assert.True(t, decimal.RequireFromString("0.75").Equal(last.Snapshot.CostUSD))

	st := f.svc.snapshotStatus()
	assert.Equal(t, int64(3), st.PollCount)
	assert.Equal(t, 2, st.Summary.Sessions)
	assert.Empty(t, st.LastError)
}

func TestPollOnceEmitsBudgetAlertOnSeverityChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.tracker.Create(ctx, model.BudgetDaily, decimal.NewFromInt(10))
	require.NoError(t, err)
	f.svc.PollOnce(ctx)
	assert.Equal(t, []string{EventSnapshot}, f.eventTypes())

	_, err = f.tracker.ApplySpend(ctx, model.BudgetDaily, decimal.NewFromInt(9))
	require.NoError(t, err)
	f.svc.PollOnce(ctx)
	f.svc.PollOnce(ctx)
	assert.Equal(t, []string{EventSnapshot, EventBudgetAlert}, f.eventTypes())

	_, err = f.tracker.ApplySpend(ctx, model.BudgetDaily, decimal.NewFromInt(2))
	require.NoError(t, err)
	f.svc.PollOnce(ctx)

	f.svc.mu.RLock()
	events := append([]Event(nil), f.svc.events...)
	f.svc.mu.RUnlock()
	require.Len(t, events, 3)
	require.NotNil(t, events[1].Alert)
	assert.Equal(t, "warning", events[1].Alert.Severity)
	require.NotNil(t, events[2].Alert)
	assert.Equal(t, "critical", events[2].Alert.Severity)
	assert.Equal(t, model.BudgetDaily, events[2].Alert.Type)
	require.Len(t, events[2].Snapshot.Budgets, 1)
	assert.Equal(t, model.StateExceeded, events[2].Snapshot.Budgets[0].State)
}

type failingUsage struct{}

func (failingUsage) HistoricalSummary(context.Context, int) (model.HistoricalSummary, error) {
	return model.HistoricalSummary{}, errors.New("db locked")
}

func (failingUsage) CostComparison(context.Context, analytics.Source, int) ([]model.ComparisonRow, error) {
	return nil, errors.New("db locked")
}

func TestPollOnceRecordsError(t *testing.T) {
	tracker := budget.NewTracker(store.NewMemory(), nil, budget.Options{})
	svc := New(Config{}, failingUsage{}, tracker, nil, nil)

	svc.PollOnce(context.Background())

	st := svc.snapshotStatus()
	assert.Contains(t, st.LastError, "db locked")
	assert.Equal(t, int64(1), st.PollCount)
	assert.Zero(t, st.EventCount)
}

func TestHandlers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SessionClosed()

	f := newFixture(t, reg)
	ctx := context.Background()
	f.addSession(t, "s1", "0.5", 4)
	_, err := f.tracker.Create(ctx, model.BudgetMonthly, decimal.NewFromInt(20))
	require.NoError(t, err)
	f.svc.PollOnce(ctx)

	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	get := func(path string) *http.Response {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("health", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/healthz").StatusCode)
	})

	t.Run("status", func(t *testing.T) {
		var st Status
		require.NoError(t, json.NewDecoder(get("/v1/status").Body).Decode(&st))
		assert.Equal(t, 1, st.Summary.Sessions)
		assert.Equal(t, 7, st.Days)
		assert.Equal(t, 1, st.EventCount)
	})

	t.Run("budgets", func(t *testing.T) {
		var statuses []model.BudgetStatus
		require.NoError(t, json.NewDecoder(get("/v1/budgets").Body).Decode(&statuses))
		require.Len(t, statuses, 1)
		assert.Equal(t, model.BudgetMonthly, statuses[0].Type)
		assert.Equal(t, model.StateWithinLimit, statuses[0].State)
	})

	t.Run("comparison", func(t *testing.T) {
		var rows []model.ComparisonRow
		require.NoError(t, json.NewDecoder(get("/v1/comparison?source=historical&days=3").Body).Decode(&rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "gpt-4o-mini", rows[0].Model)
		assert.True(t, rows[0].Historical)
	})

	t.Run("comparison bad days", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get("/v1/comparison?days=x").StatusCode)
	})

	t.Run("events", func(t *testing.T) {
		var events []Event
		require.NoError(t, json.NewDecoder(get("/v1/events").Body).Decode(&events))
		require.Len(t, events, 1)
		assert.Equal(t, EventSnapshot, events[0].Type)
	})

	t.Run("metrics", func(t *testing.T) {
		resp := get("/metrics")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		buf := new(strings.Builder)
		_, err := io.Copy(buf, resp.Body)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "chatmeter_sessions_closed_total 1")
	})
}

func TestStreamSendsCurrentSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.addSession(t, "s1", "0.5", 4)
	f.svc.PollOnce(context.Background())

	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: snapshot\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "), line)
	assert.Contains(t, line, `"sessions":1`)
}

func TestCloseStreamsEndsOpenStreams(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: snapshot\n", line)

	ended := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, r)
		ended <- err
	}()

	f.svc.closeStreams()
	f.svc.closeStreams()
	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after closeStreams")
	}
}

func TestRunShutsDownWithOpenStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	tracker := budget.NewTracker(store.NewMemory(), nil, budget.Options{})
	svc := New(Config{Addr: addr, Interval: time.Hour}, failingUsage{}, tracker, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	var resp *http.Response
	for i := 0; i < 100 && resp == nil; i++ {
		if r, err := http.Get("http://" + addr + "/v1/stream"); err == nil {
			resp = r
		} else {
			time.Sleep(20 * time.Millisecond)
		}
	}
	require.NotNil(t, resp, "server did not start")
	defer resp.Body.Close()

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(4 * time.Second):
		t.Fatal("Run did not return")
	}
}
