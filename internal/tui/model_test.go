package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-test-runner/internal/result"
	"github.com/randomizedcoder/go-test-runner/internal/stats"
)

// =============================================================================
// Mock Sources
// =============================================================================

type mockStatsSource struct {
	stats stats.RunStats
}

func (m *mockStatsSource) Snapshot() stats.RunStats {
	return m.stats
}

type mockRunningSource struct {
	names []string
}

func (m *mockRunningSource) RunningTestNames() []string {
	return m.names
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	cfg := Config{
		TargetTests: 100,
		MetricsAddr: "localhost:9090",
	}

	model := New(cfg)

	if model.targetTests != 100 {
		t.Errorf("targetTests = %d, want 100", model.targetTests)
	}
	if model.metricsAddr != "localhost:9090" {
		t.Errorf("metricsAddr = %s, want localhost:9090", model.metricsAddr)
	}
	if model.width != 80 {
		t.Errorf("width = %d, want 80", model.width)
	}
	if model.height != 24 {
		t.Errorf("height = %d, want 24", model.height)
	}
}

// =============================================================================
// Tests: Init
// =============================================================================

func TestModel_Init(t *testing.T) {
	model := New(Config{TargetTests: 10})
	cmd := model.Init()

	if cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"d", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			model := New(Config{TargetTests: 10})
			msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)}
			if tt.key == "ctrl+c" {
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			} else if tt.key == "esc" {
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			}

			newModel, cmd := model.Update(msg)
			m := newModel.(Model)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}

			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_QuitCallsOnQuit(t *testing.T) {
	called := 0
	model := New(Config{
		TargetTests: 10,
		OnQuit:      func() { called++ },
	})

	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
	newModel, _ := model.Update(msg)
	m := newModel.(Model)

	if called != 1 {
		t.Errorf("OnQuit called %d times, want 1", called)
	}

	// A second quit key must not fire the callback again
	m.Update(msg)
	if called != 1 {
		t.Errorf("OnQuit called %d times after second key, want 1", called)
	}
}

func TestModel_Update_ToggleDetailedView(t *testing.T) {
	model := New(Config{TargetTests: 10})

	// Initially not detailed
	if model.detailedView {
		t.Error("detailedView should be false initially")
	}

	// Press 'd' to toggle
	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}
	newModel, _ := model.Update(msg)
	m := newModel.(Model)

	if !m.detailedView {
		t.Error("detailedView should be true after pressing 'd'")
	}

	// Press 'd' again to toggle back
	newModel, _ = m.Update(msg)
	m = newModel.(Model)

	if m.detailedView {
		t.Error("detailedView should be false after pressing 'd' again")
	}
}

// =============================================================================
// Tests: Update - Window Size
// =============================================================================

func TestModel_Update_WindowSize(t *testing.T) {
	model := New(Config{TargetTests: 10})

	msg := tea.WindowSizeMsg{Width: 120, Height: 40}
	newModel, _ := model.Update(msg)
	m := newModel.(Model)

	if m.width != 120 {
		t.Errorf("width = %d, want 120", m.width)
	}
	if m.height != 40 {
		t.Errorf("height = %d, want 40", m.height)
	}
}

// =============================================================================
// Tests: Update - Tick
// =============================================================================

func TestModel_Update_Tick(t *testing.T) {
	source := &mockStatsSource{
		stats: stats.RunStats{
			Completed: 50,
			Success:   48,
			Failure:   2,
		},
	}
	running := &mockRunningSource{names: []string{"test_auth", "test_batch"}}

	model := New(Config{
		TargetTests:   100,
		StatsSource:   source,
		RunningSource: running,
	})

	msg := TickMsg(time.Now())
	newModel, cmd := model.Update(msg)
	m := newModel.(Model)

	if m.stats == nil {
		t.Fatal("stats should be set after tick")
	}
	if m.stats.Completed != 50 {
		t.Errorf("Completed = %d, want 50", m.stats.Completed)
	}
	if len(m.running) != 2 {
		t.Errorf("running = %v, want 2 names", m.running)
	}
	if cmd == nil {
		t.Error("expected tick cmd to be returned")
	}
}

// =============================================================================
// Tests: Update - Output Message
// =============================================================================

func TestModel_Update_OutputMsg(t *testing.T) {
	model := New(Config{TargetTests: 10})

	newModel, _ := model.Update(OutputMsg{Test: "test_math", Line: "12 assertions passed"})
	m := newModel.(Model)

	if len(m.outputTail) != 1 {
		t.Fatalf("outputTail len = %d, want 1", len(m.outputTail))
	}
	if m.outputTail[0] != "test_math: 12 assertions passed" {
		t.Errorf("outputTail[0] = %q", m.outputTail[0])
	}
}

func TestModel_Update_OutputMsg_Bounded(t *testing.T) {
	model := New(Config{TargetTests: 10})

	var tm tea.Model = model
	for i := 0; i < maxOutputTail+5; i++ {
		tm, _ = tm.(Model).Update(OutputMsg{Line: "line"})
	}

	m := tm.(Model)
	if len(m.outputTail) != maxOutputTail {
		t.Errorf("outputTail len = %d, want %d", len(m.outputTail), maxOutputTail)
	}
}

// =============================================================================
// Tests: Update - Quit Message
// =============================================================================

func TestModel_Update_QuitMsg(t *testing.T) {
	model := New(Config{TargetTests: 10})

	msg := QuitMsg{}
	newModel, cmd := model.Update(msg)
	m := newModel.(Model)

	if !m.quitting {
		t.Error("quitting should be true")
	}
	if cmd == nil {
		t.Error("expected tea.Quit cmd")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Quitting(t *testing.T) {
	model := New(Config{TargetTests: 10})
	model.quitting = true

	view := model.View()
	if view != "" {
		t.Errorf("View() when quitting should be empty, got %q", view)
	}
}

func TestModel_View_Summary(t *testing.T) {
	model := New(Config{
		TargetTests: 100,
		MetricsAddr: "127.0.0.1:17092",
	})
	model.stats = &stats.RunStats{
		Completed:   50,
		Success:     47,
		Failure:     2,
		Timeout:     1,
		PassRate:    0.94,
		DurationP50: 40 * time.Millisecond,
		DurationP95: 90 * time.Millisecond,
		DurationP99: 100 * time.Millisecond,
	}
	model.running = []string{"test_io"}

	view := model.View()

	if len(view) == 0 {
		t.Fatal("View() returned empty string")
	}
	for _, want := range []string{"Run Progress", "Results", "Execution Time", "Running", "Metrics:"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_Detailed(t *testing.T) {
	model := New(Config{TargetTests: 10})
	model.detailedView = true
	model.stats = &stats.RunStats{
		Completed: 3,
		Slowest: []stats.TestTiming{
			{Name: "test_slow", Duration: 2 * time.Second},
			{Name: "test_fast", Duration: 10 * time.Millisecond},
		},
		Failed: []result.Result{
			{Name: "test_fail", Status: result.Failure, Duration: 20 * time.Millisecond},
		},
	}

	view := model.View()

	for _, want := range []string{"Slowest Tests", "test_slow", "Failures", "test_fail"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

// =============================================================================
// Tests: Accessors
// =============================================================================

func TestModel_Elapsed(t *testing.T) {
	model := New(Config{TargetTests: 10})
	time.Sleep(10 * time.Millisecond)

	elapsed := model.Elapsed()
	if elapsed < 10*time.Millisecond {
		t.Errorf("Elapsed() = %v, want >= 10ms", elapsed)
	}
}

func TestModel_Progress(t *testing.T) {
	tests := []struct {
		name        string
		targetTests int
		completed   int64
		want        float64
	}{
		{"zero target", 0, 0, 0},
		{"zero completed", 100, 0, 0},
		{"half", 100, 50, 0.5},
		{"full", 100, 100, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := New(Config{TargetTests: tt.targetTests})
			if tt.completed > 0 {
				model.stats = &stats.RunStats{Completed: tt.completed}
			}

			got := model.Progress()
			if got != tt.want {
				t.Errorf("Progress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModel_DropRate_NoStream(t *testing.T) {
	model := New(Config{TargetTests: 10})
	if got := model.DropRate(); got != 0 {
		t.Errorf("DropRate() without stream = %v, want 0", got)
	}
}

// =============================================================================
// Tests: Formatting Helpers
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{time.Second, "00:00:01"},
		{time.Minute, "00:01:00"},
		{time.Hour, "01:00:00"},
		{2*time.Hour + 30*time.Minute + 45*time.Second, "02:30:45"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.0K"},
		{1500, "1.5K"},
		{1000000, "1.0M"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatNumber(tt.n); got != tt.want {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.00 KB"},
		{1000000, "1.00 MB"},
		{1000000000, "1.00 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatBytes(tt.n); got != tt.want {
				t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 ms"},
		{time.Millisecond, "1 ms"},
		{100 * time.Millisecond, "100 ms"},
		{500 * time.Microsecond, "500 µs"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatMs(tt.d); got != tt.want {
				t.Errorf("formatMs(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "0.00/s"},
		{0.5, "0.50/s"},
		{10, "10.0/s"},
		{1000, "1.0K/s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatRate(tt.rate); got != tt.want {
				t.Errorf("formatRate(%v) = %q, want %q", tt.rate, got, tt.want)
			}
		})
	}
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "0.0%"},
		{0.5, "50.0%"},
		{1.0, "100.0%"},
		{0.015, "1.5%"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatPercent(tt.value); got != tt.want {
				t.Errorf("formatPercent(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}
