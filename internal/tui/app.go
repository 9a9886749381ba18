// Package tui provides the interactive Bubble Tea dashboard for chatmeter.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatmeter/internal/analytics"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/tui/components"
	"github.com/theirongolddev/chatmeter/internal/tui/theme"
)

// Analytics is the reporting surface the dashboard reads.
type Analytics interface {
	EfficiencyReport(ctx context.Context, days int) (model.EfficiencyReport, error)
	DailyTrend(ctx context.Context, days int) ([]model.DailyStats, error)
	CostComparison(ctx context.Context, source analytics.Source, days int) ([]model.ComparisonRow, error)
	Sessions(ctx context.Context, days int) ([]model.Session, error)
}

// Budgets is the budget surface the dashboard reads.
type Budgets interface {
	Status(ctx context.Context, t model.BudgetType) (model.BudgetStatus, error)
	Alerts(ctx context.Context) ([]model.BudgetAlert, error)
	SpendingSummary(ctx context.Context, days int) (model.SpendingSummary, error)
	Project(ctx context.Context, t model.BudgetType, daysAhead int) (model.Projection, error)
}

// Options configures the dashboard.
type Options struct {
	Days        int
	Assumed     bool          // comparison tab starts in assumed mode
	LoadTimeout time.Duration // bound on one full reload
}

// dashboardData is everything one reload produces.
type dashboardData struct {
	report      model.EfficiencyReport
	daily       []model.DailyStats
	comparison  []model.ComparisonRow
	statuses    []model.BudgetStatus
	alerts      []model.BudgetAlert
	spending    model.SpendingSummary
	projections []model.Projection
	sessions    []model.Session
}

// DataLoadedMsg is sent when a reload finishes.
type DataLoadedMsg struct {
	Data     *dashboardData
	Err      error
	LoadTime time.Duration
}

// App is the root Bubble Tea model.
type App struct {
	analytics Analytics
	budgets   Budgets
	opts      Options

	// Data
	data     *dashboardData
	loaded   bool
	loading  bool
	loadTime time.Duration
	lastErr  string

	// UI state
	width     int
	height    int
	activeTab int
	showHelp  bool
	source    analytics.Source
	cursor    int // selected row in the sessions tab

	spinner spinner.Model
}

const (
	minTerminalWidth = 80
	maxContentWidth  = 160
	minContentHeight = 5
)

// NewApp creates a new dashboard model.
func NewApp(an Analytics, bu Budgets, opts Options) App {
	if opts.Days < 1 {
		opts.Days = 30
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 15 * time.Second
	}
	source := analytics.SourceHistorical
	if opts.Assumed {
		source = analytics.SourceAssumed
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent).Background(theme.Active.Surface)

	return App{
		analytics: an,
		budgets:   bu,
		opts:      opts,
		source:    source,
		loading:   true,
		spinner:   sp,
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		tea.EnableMouseCellMotion,
		a.loadCmd(),
		a.spinner.Tick,
	)
}

// loadCmd gathers every tab's data in one background call.
func (a App) loadCmd() tea.Cmd {
	an, bu, days, source, timeout := a.analytics, a.budgets, a.opts.Days, a.source, a.opts.LoadTimeout
	return func() tea.Msg {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		data, err := load(ctx, an, bu, days, source)
		return DataLoadedMsg{Data: data, Err: err, LoadTime: time.Since(start)}
	}
}

func load(ctx context.Context, an Analytics, bu Budgets, days int, source analytics.Source) (*dashboardData, error) {
	var (
		d   dashboardData
		err error
	)
	if d.report, err = an.EfficiencyReport(ctx, days); err != nil {
		return nil, fmt.Errorf("efficiency report: %w", err)
	}
	if d.daily, err = an.DailyTrend(ctx, days); err != nil {
		return nil, fmt.Errorf("daily trend: %w", err)
	}
	if d.comparison, err = an.CostComparison(ctx, source, days); err != nil {
		return nil, fmt.Errorf("cost comparison: %w", err)
	}
	if d.sessions, err = an.Sessions(ctx, days); err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	for _, bt := range model.BudgetTypes {
		st, err := bu.Status(ctx, bt)
		if err != nil {
			return nil, fmt.Errorf("%s budget: %w", bt, err)
		}
		d.statuses = append(d.statuses, st)
		if st.State == model.StateNoBudget {
			continue
		}
		p, err := bu.Project(ctx, bt, 0)
		if err != nil {
			return nil, fmt.Errorf("%s projection: %w", bt, err)
		}
		d.projections = append(d.projections, p)
	}
	if d.alerts, err = bu.Alerts(ctx); err != nil {
		return nil, fmt.Errorf("budget alerts: %w", err)
	}
	if d.spending, err = bu.SpendingSummary(ctx, days); err != nil {
		return nil, fmt.Errorf("spending summary: %w", err)
	}
	return &d, nil
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.MouseMsg:
		if !a.loaded || a.showHelp {
			return a, nil
		}
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			if a.activeTab == tabSessions {
				a.moveCursor(-1)
			}
		case tea.MouseButtonWheelDown:
			if a.activeTab == tabSessions {
				a.moveCursor(1)
			}
		case tea.MouseButtonLeft:
			if msg.Y == 0 {
				if tab := a.tabAtX(msg.X); tab >= 0 {
					a.activeTab = tab
				}
			}
		}
		return a, nil

	case tea.KeyMsg:
		return a.updateKey(msg)

	case DataLoadedMsg:
		a.loading = false
		a.loadTime = msg.LoadTime
		if msg.Err != nil {
			// previous data, if any, stays on screen
			a.lastErr = msg.Err.Error()
			a.loaded = true
			return a, nil
		}
		a.lastErr = ""
		a.data = msg.Data
		a.loaded = true
		a.clampCursor()
		return a, nil

	case spinner.TickMsg:
		if a.loading {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			return a, cmd
		}
		return a, nil
	}

	return a, nil
}

func (a App) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return a, tea.Quit
	}
	if !a.loaded {
		return a, nil
	}

	if key == "?" {
		a.showHelp = !a.showHelp
		return a, nil
	}
	if a.showHelp {
		a.showHelp = false
		return a, nil
	}

	switch key {
	case "q":
		return a, tea.Quit
	case "r":
		return a.reload()
	case "a":
		if a.activeTab == tabCompare {
			if a.source == analytics.SourceAssumed {
				a.source = analytics.SourceHistorical
			} else {
				a.source = analytics.SourceAssumed
			}
			return a.reload()
		}
	case "j", "down":
		if a.activeTab == tabSessions {
			a.moveCursor(1)
		}
	case "k", "up":
		if a.activeTab == tabSessions {
			a.moveCursor(-1)
		}
	case "g":
		a.cursor = 0
	case "G":
		if a.data != nil {
			a.cursor = len(a.data.sessions) - 1
			a.clampCursor()
		}
	case "left", "shift+tab":
		a.activeTab = (a.activeTab - 1 + len(components.Tabs)) % len(components.Tabs)
	case "right", "tab":
		a.activeTab = (a.activeTab + 1) % len(components.Tabs)
	default:
		if len(key) == 1 {
			if idx := components.TabIdxByKey(rune(key[0])); idx >= 0 {
				a.activeTab = idx
			}
		}
	}
	return a, nil
}

func (a App) reload() (tea.Model, tea.Cmd) {
	if a.loading {
		return a, nil
	}
	a.loading = true
	return a, tea.Batch(a.loadCmd(), a.spinner.Tick)
}

func (a *App) moveCursor(delta int) {
	a.cursor += delta
	a.clampCursor()
}

func (a *App) clampCursor() {
	n := 0
	if a.data != nil {
		n = len(a.data.sessions)
	}
	if a.cursor >= n {
		a.cursor = n - 1
	}
	if a.cursor < 0 {
		a.cursor = 0
	}
}

func (a App) contentWidth() int {
	cw := a.width
	if cw > maxContentWidth {
		cw = maxContentWidth
	}
	return cw
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return a.viewTooNarrow()
	}
	if !a.loaded {
		return a.viewLoading()
	}
	if a.showHelp {
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) viewTooNarrow() string {
	h := a.height
	if h < 5 {
		h = 5
	}
	msg := fmt.Sprintf(
		"\n  Terminal too narrow (%d cols)\n\n  chatmeter needs at least %d columns.\n",
		a.width,
		minTerminalWidth,
	)
	return padHeight(truncateHeight(msg, h), h)
}

func (a App) viewLoading() string {
	t := theme.Active

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(2, 4)

	logoStyle := lipgloss.NewStyle().
		Foreground(t.AccentBright).
		Background(t.Surface).
		Bold(true)

	subtitleStyle := lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Background(t.Surface)

	var b strings.Builder
	b.WriteString(logoStyle.Render("◈ chatmeter"))
	b.WriteString(subtitleStyle.Render(" · Chat Cost Dashboard"))
	b.WriteString("\n\n")
	b.WriteString(a.spinner.View())
	b.WriteString(subtitleStyle.Render(" Loading sessions and budgets..."))

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, cardStyle.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) viewHelp() string {
	t := theme.Active

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(1, 3)

	titleStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	keyStyle := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	dimStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	var b strings.Builder
	b.WriteString(titleStyle.Render("◈ Keyboard Shortcuts"))
	b.WriteString("\n\n")

	bindings := []struct{ key, desc string }{
		{"o b m c s", "Jump to tab"},
		{"← → tab", "Previous / Next tab"},
		{"j k g G", "Navigate sessions"},
		{"a", "Toggle assumed / historical comparison"},
		{"r", "Reload data"},
		{"?", "Toggle help"},
		{"q", "Quit"},
	}
	for _, bind := range bindings {
		fmt.Fprintf(&b, "  %s  %s\n",
			keyStyle.Render(fmt.Sprintf("%-10s", bind.key)),
			descStyle.Render(bind.desc))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press any key to close"))

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, cardStyle.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

// Tab indexes, in components.Tabs order.
const (
	tabOverview = iota
	tabBudgets
	tabModels
	tabCompare
	tabSessions
)

func (a App) viewMain() string {
	t := theme.Active
	w := a.width
	cw := a.contentWidth()
	h := a.height

	pillStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	accentStyle := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	filter := pillStyle.Render(" window ") + accentStyle.Render(fmt.Sprintf("%dd", a.opts.Days))
	if a.activeTab == tabCompare {
		filter += pillStyle.Render(" │ ") + accentStyle.Render(string(a.source))
	}
	header := components.RenderTabBar(a.activeTab, w) + "\n" +
		lipgloss.NewStyle().Background(t.Surface).Width(w).Render(filter)

	statusBar := components.RenderStatusBar(w, fmt.Sprintf("%.1fs", a.loadTime.Seconds()), a.loading, a.lastErr)

	contentH := h - lipgloss.Height(header) - lipgloss.Height(statusBar)
	if contentH < minContentHeight {
		contentH = minContentHeight
	}

	var content string
	switch {
	case a.data == nil:
		content = "\n  No data loaded."
	case a.activeTab == tabOverview:
		content = a.renderOverviewTab(cw)
	case a.activeTab == tabBudgets:
		content = a.renderBudgetsTab(cw)
	case a.activeTab == tabModels:
		content = a.renderModelsTab(cw)
	case a.activeTab == tabCompare:
		content = a.renderCompareTab(cw)
	case a.activeTab == tabSessions:
		content = a.renderSessionsTab(cw, contentH)
	}

	content = padHeight(truncateHeight(content, contentH), contentH)
	content = lipgloss.Place(w, contentH, lipgloss.Center, lipgloss.Top, content,
		lipgloss.WithWhitespaceBackground(t.Background))

	output := lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
	return lipgloss.Place(w, h, lipgloss.Left, lipgloss.Top, output,
		lipgloss.WithWhitespaceBackground(t.Background))
}

// ─── Helpers ────────────────────────────────────────────────────

// tabAtX returns the tab index at the given X coordinate, or -1 if none.
func (a App) tabAtX(x int) int {
	pos := 0
	for i, tab := range components.Tabs {
		tabW := components.TabVisualWidth(tab, i == a.activeTab)
		if x >= pos && x < pos+tabW {
			return i
		}
		pos += tabW + 1 // separator
	}
	return -1
}

func truncStr(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func truncateHeight(s string, limit int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s
	}
	return strings.Join(lines[:limit], "\n")
}

func padHeight(s string, h int) string {
	lines := strings.Split(s, "\n")
	if len(lines) >= h {
		return s
	}
	return s + strings.Repeat("\n", h-len(lines))
}
