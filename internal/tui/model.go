package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-test-runner/internal/parser"
	"github.com/randomizedcoder/go-test-runner/internal/stats"
	"github.com/randomizedcoder/go-test-runner/internal/timeseries"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// OutputMsg carries one line of test output for the recent-output tail.
type OutputMsg struct {
	Test string
	Line string
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// maxOutputTail bounds the recent-output buffer shown in the dashboard.
const maxOutputTail = 8

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	targetTests int
	metricsAddr string

	// Current state
	stats        *stats.RunStats
	running      []string
	rates        timeseries.RateStats
	outputTail   []string
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	// Sources polled on each tick
	statsSource   StatsSource
	runningSource RunningSource
	rateTracker   *timeseries.RateTracker
	stream        *parser.Stream

	// Called once when the user asks to quit; the harness uses this to
	// terminate running tests before tearing the program down.
	onQuit        func()
	quitRequested bool

	// Quit flag
	quitting bool
}

// StatsSource provides a point-in-time snapshot of run statistics.
type StatsSource interface {
	Snapshot() stats.RunStats
}

// RunningSource reports which tests are currently executing.
// This is optional - if not provided, the running-tests panel won't be shown.
type RunningSource interface {
	RunningTestNames() []string
}

// Config holds TUI configuration.
type Config struct {
	TargetTests   int
	MetricsAddr   string
	StatsSource   StatsSource
	RunningSource RunningSource
	RateTracker   *timeseries.RateTracker
	Stream        *parser.Stream
	OnQuit        func()
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		targetTests:   cfg.TargetTests,
		metricsAddr:   cfg.MetricsAddr,
		statsSource:   cfg.StatsSource,
		runningSource: cfg.RunningSource,
		rateTracker:   cfg.RateTracker,
		stream:        cfg.Stream,
		onQuit:        cfg.OnQuit,
		startTime:     time.Now(),
		lastUpdate:    time.Now(),
		width:         80,
		height:        24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.onQuit != nil && !m.quitRequested {
				m.quitRequested = true
				m.onQuit()
			}
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			// Force refresh
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		// Fetch latest stats
		if m.statsSource != nil {
			s := m.statsSource.Snapshot()
			m.stats = &s
		}
		if m.runningSource != nil {
			m.running = m.runningSource.RunningTestNames()
		}
		if m.rateTracker != nil {
			m.rates = m.rateTracker.GetStats()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case OutputMsg:
		line := msg.Line
		if msg.Test != "" {
			line = msg.Test + ": " + msg.Line
		}
		m.outputTail = append(m.outputTail, line)
		if len(m.outputTail) > maxOutputTail {
			m.outputTail = m.outputTail[len(m.outputTail)-maxOutputTail:]
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView && m.stats != nil {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the run started.
func (m Model) Elapsed() time.Duration {
	if m.stats != nil && m.stats.Elapsed > 0 {
		return m.stats.Elapsed
	}
	return time.Since(m.startTime)
}

// Completed returns the number of finished tests.
func (m Model) Completed() int64 {
	if m.stats == nil {
		return 0
	}
	return m.stats.Completed
}

// TargetTests returns the total number of tests in the run.
func (m Model) TargetTests() int {
	return m.targetTests
}

// Progress returns the run progress (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.targetTests == 0 {
		return 0
	}
	return float64(m.Completed()) / float64(m.targetTests)
}

// DropRate returns the current output-stream drop rate.
func (m Model) DropRate() float64 {
	if m.stream == nil {
		return 0
	}
	return m.stream.DropRate()
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendOutput forwards a line of test output to the TUI tail.
func SendOutput(p *tea.Program, test, line string) {
	if p != nil {
		p.Send(OutputMsg{Test: test, Line: line})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatBytes formats bytes with KB/MB/GB suffixes.
func formatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatPercent formats a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
