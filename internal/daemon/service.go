// Package daemon provides the long-running usage and budget status service.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/analytics"
	"github.com/theirongolddev/chatmeter/internal/logging"
	"github.com/theirongolddev/chatmeter/internal/model"
)

// Event types published on /v1/events and /v1/stream.
const (
	EventSnapshot    = "snapshot"
	EventUsageDelta  = "usage_delta"
	EventBudgetAlert = "budget_alert"
)

// Config controls the daemon runtime behavior.
type Config struct {
	Days         int
	Interval     time.Duration
	Addr         string
	EventsBuffer int
	PollTimeout  time.Duration
}

// Usage is the analytics surface the daemon polls.
type Usage interface {
	HistoricalSummary(ctx context.Context, days int) (model.HistoricalSummary, error)
	CostComparison(ctx context.Context, source analytics.Source, days int) ([]model.ComparisonRow, error)
}

// Budgets is the budget surface the daemon polls.
type Budgets interface {
	Statuses(ctx context.Context) ([]model.BudgetStatus, error)
	Alerts(ctx context.Context) ([]model.BudgetAlert, error)
}

// Snapshot is a compact usage state for status/event payloads.
type Snapshot struct {
	At             time.Time            `json:"at"`
	Sessions       int                  `json:"sessions"`
	Messages       int                  `json:"messages"`
	Tokens         int64                `json:"tokens"`
	CostUSD        decimal.Decimal      `json:"cost_usd"`
	CostPerSession decimal.Decimal      `json:"cost_per_session_usd"`
	ActiveDays     int                  `json:"active_days"`
	Budgets        []model.BudgetStatus `json:"budgets"`
}

// Delta captures snapshot deltas between polls.
type Delta struct {
	Sessions int             `json:"sessions"`
	Messages int             `json:"messages"`
	Tokens   int64           `json:"tokens"`
	CostUSD  decimal.Decimal `json:"cost_usd"`
}

func (d Delta) isZero() bool {
	return d.Sessions == 0 &&
		d.Messages == 0 &&
		d.Tokens == 0 &&
		d.CostUSD.IsZero()
}

// Event is emitted whenever the usage snapshot or a budget alert changes.
type Event struct {
	ID        int64              `json:"id"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Snapshot  Snapshot           `json:"snapshot"`
	Delta     Delta              `json:"delta"`
	Alert     *model.BudgetAlert `json:"alert,omitempty"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time `json:"started_at"`
	LastPollAt      time.Time `json:"last_poll_at"`
	PollIntervalSec int       `json:"poll_interval_sec"`
	PollCount       int64     `json:"poll_count"`
	Days            int       `json:"days"`
	Summary         Snapshot  `json:"summary"`
	LastError       string    `json:"last_error,omitempty"`
	EventCount      int       `json:"event_count"`
	SubscriberCount int       `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg      Config
	usage    Usage
	budgets  Budgets
	gatherer prometheus.Gatherer
	log      *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	startedAt   time.Time
	lastPollAt  time.Time
	pollCount   int64
	lastError   string
	hasSnapshot bool
	snapshot    Snapshot
	severity    map[model.BudgetType]string
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a daemon service. gatherer backs /metrics and may be nil.
func New(cfg Config, usage Usage, budgets Budgets, gatherer prometheus.Gatherer, logger *zap.Logger) *Service {
	if cfg.Interval < 2*time.Second {
		cfg.Interval = 10 * time.Second
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if cfg.Days < 1 {
		cfg.Days = 30
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}

	return &Service{
		cfg:       cfg,
		usage:     usage,
		budgets:   budgets,
		gatherer:  gatherer,
		log:       logging.OrNop(logger),
		now:       time.Now,
		startedAt: time.Now(),
		severity:  make(map[model.BudgetType]string),
		subs:      make(map[int]chan Event),
		done:      make(chan struct{}),
	}
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)
	mux.HandleFunc("/v1/budgets", s.handleBudgets)
	mux.HandleFunc("/v1/comparison", s.handleComparison)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run starts HTTP endpoints and polling until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Seed initial snapshot so status is useful immediately.
	s.PollOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeStreams()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.PollOnce(ctx)
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

// PollOnce refreshes the snapshot and publishes any resulting events.
func (s *Service) PollOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	now := s.now()
	snap, alerts, err := s.collect(ctx, now)
	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.lastPollAt = now
		s.pollCount++
		s.mu.Unlock()
		s.log.Warn("daemon poll failed", zap.Error(err))
		return
	}

	var pending []Event

	s.mu.Lock()
	prev := s.snapshot
	prevExists := s.hasSnapshot

	s.hasSnapshot = true
	s.snapshot = snap
	s.lastPollAt = now
	s.pollCount++
	s.lastError = ""

	if !prevExists {
		pending = append(pending, s.newEventLocked(EventSnapshot, now, snap, Delta{}, nil))
	} else if delta := diffSnapshots(prev, snap); !delta.isZero() {
		pending = append(pending, s.newEventLocked(EventUsageDelta, now, snap, delta, nil))
	}

	seen := make(map[model.BudgetType]bool, len(alerts))
	for i := range alerts {
		a := alerts[i]
		seen[a.Type] = true
		if s.severity[a.Type] == a.Severity {
			continue
		}
		s.severity[a.Type] = a.Severity
		pending = append(pending, s.newEventLocked(EventBudgetAlert, now, snap, Delta{}, &a))
	}
	for bt := range s.severity {
		if !seen[bt] {
			delete(s.severity, bt)
		}
	}
	s.mu.Unlock()

	for _, ev := range pending {
		s.publishEvent(ev)
	}
}

func (s *Service) collect(ctx context.Context, now time.Time) (Snapshot, []model.BudgetAlert, error) {
	sum, err := s.usage.HistoricalSummary(ctx, s.cfg.Days)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("loading usage: %w", err)
	}
	statuses, err := s.budgets.Statuses(ctx)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("loading budgets: %w", err)
	}
	alerts, err := s.budgets.Alerts(ctx)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("loading alerts: %w", err)
	}
	return snapshotFromSummary(sum, statuses, now), alerts, nil
}

// newEventLocked assigns the next event id. Caller holds s.mu.
func (s *Service) newEventLocked(typ string, at time.Time, snap Snapshot, delta Delta, alert *model.BudgetAlert) Event {
	s.nextEventID++
	return Event{
		ID:        s.nextEventID,
		Type:      typ,
		Timestamp: at,
		Snapshot:  snap,
		Delta:     delta,
		Alert:     alert,
	}
}

func snapshotFromSummary(sum model.HistoricalSummary, budgets []model.BudgetStatus, at time.Time) Snapshot {
	return Snapshot{
		At:             at,
		Sessions:       sum.TotalSessions,
		Messages:       sum.TotalMessages,
		Tokens:         sum.TotalTokens,
		CostUSD:        sum.TotalCost,
		CostPerSession: sum.CostPerSession,
		ActiveDays:     sum.ActiveDays,
		Budgets:        budgets,
	}
}

func diffSnapshots(prev, curr Snapshot) Delta {
	return Delta{
		Sessions: curr.Sessions - prev.Sessions,
		Messages: curr.Messages - prev.Messages,
		Tokens:   curr.Tokens - prev.Tokens,
		CostUSD:  curr.CostUSD.Sub(prev.CostUSD),
	}
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		StartedAt:       s.startedAt,
		LastPollAt:      s.lastPollAt,
		PollIntervalSec: int(s.cfg.Interval.Seconds()),
		PollCount:       s.pollCount,
		Days:            s.cfg.Days,
		Summary:         s.snapshot,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.snapshotStatus())
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, events)
}

func (s *Service) handleBudgets(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.budgets.Statuses(r.Context())
	if err != nil {
		s.log.Warn("budget status request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, statuses)
}

// handleComparison serves the per-model cost table. ?source=historical
// switches from configured assumptions to observed averages; ?days=N sets
// the historical window.
func (s *Service) handleComparison(w http.ResponseWriter, r *http.Request) {
	source := analytics.SourceAssumed
	if r.URL.Query().Get("source") == string(analytics.SourceHistorical) {
		source = analytics.SourceHistorical
	}
	days := s.cfg.Days
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = n
	}

	rows, err := s.usage.CostComparison(r.Context(), source, days)
	if err != nil {
		s.log.Warn("comparison request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send current snapshot immediately.
	current := Event{
		Type:      EventSnapshot,
		Timestamp: s.now(),
		Snapshot:  s.snapshotStatus().Summary,
	}
	writeSSE(w, current)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

// closeStreams ends every open /v1/stream response. Shutdown does not
// interrupt active handlers.
func (s *Service) closeStreams() {
	s.doneOnce.Do(func() { close(s.done) })
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
