package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main run dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	// Header
	sections = append(sections, m.renderHeader())

	// Progress section
	sections = append(sections, m.renderProgress())

	// Stats sections (only if we have stats)
	if m.stats != nil {
		sections = append(sections, m.renderResultStats())
		sections = append(sections, m.renderTimingStats())

		// Failures section (only if something went wrong)
		if m.hasFailures() {
			sections = append(sections, m.renderFailureStats())
		}
	}

	// Currently running tests
	if len(m.running) > 0 {
		sections = append(sections, m.renderRunningTests())
	}

	// Recent output tail
	if len(m.outputTail) > 0 {
		sections = append(sections, m.renderOutputTail())
	}

	// Footer
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders per-test details.
func (m Model) renderDetailedView() string {
	var sections []string

	// Header
	sections = append(sections, m.renderHeader())

	// Slowest-test table
	sections = append(sections, m.renderTestTable())

	// Per-failure detail
	if m.hasFailures() {
		sections = append(sections, m.renderFailureStats())
	}

	// Footer
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	// Output pipeline status indicator
	streamLabel := GetStreamLabel(m.DropRate())

	// Build header line
	header := fmt.Sprintf(
		" go-test-runner │ %s │ Tests: %d/%d │ Elapsed: %s ",
		streamLabel,
		m.Completed(),
		m.targetTests,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	progress := m.Progress()

	// Progress bar
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(progress, barWidth)

	// Status text
	var status string
	if progress >= 1.0 {
		status = statusOK.Render("✓ All tests completed")
	} else {
		status = statusInfo.Render(fmt.Sprintf("Running... %d/%d done, %d in flight",
			m.Completed(), m.targetTests, len(m.running)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Run Progress"),
		progressBar,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Result Statistics
// =============================================================================

func (m Model) renderResultStats() string {
	if m.stats == nil {
		return ""
	}

	s := m.stats

	rows := []string{
		renderCountRow("Passed", s.Success, valueGoodStyle),
		renderCountRow("Failed", s.Failure, failCountStyle(s.Failure)),
	}

	// Rarer statuses only earn a row once they happen
	if s.Timeout > 0 {
		rows = append(rows, renderCountRow("Timed Out", s.Timeout, valueWarnStyle))
	}
	if s.Crash > 0 {
		rows = append(rows, renderCountRow("Crashed", s.Crash, valueBadStyle))
	}
	if s.BuildErrors > 0 {
		rows = append(rows, renderCountRow("Build Errors", s.BuildErrors, valueBadStyle))
	}
	if s.SystemErrors > 0 {
		rows = append(rows, renderCountRow("System Errors", s.SystemErrors, valueBadStyle))
	}

	// Pass rate with color
	passRateStyle := GetPassRateStyle(s.PassRate)
	rows = append(rows,
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Pass Rate:"),
			passRateStyle.Render(formatPercent(s.PassRate)),
		),
	)

	// Completion rate from the rolling-window tracker
	rows = append(rows,
		RenderKeyValue("Completion Rate", formatRate(m.rates.Avg30s)),
		RenderKeyValue("Output Captured", formatBytes(s.OutputBytes)),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Results")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderCountRow(label string, count int64, style lipgloss.Style) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		style.Render(formatNumber(count)),
	)
}

func failCountStyle(failures int64) lipgloss.Style {
	if failures > 0 {
		return valueBadStyle
	}
	return valueStyle
}

// =============================================================================
// Timing Statistics
// =============================================================================

func (m Model) renderTimingStats() string {
	if m.stats == nil || m.stats.DurationP50 == 0 {
		return ""
	}

	s := m.stats

	rows := []string{
		RenderKeyValue("P50 (median)", formatMs(s.DurationP50)),
		RenderKeyValue("P95", formatMs(s.DurationP95)),
		RenderKeyValue("P99", formatMs(s.DurationP99)),
	}

	if len(s.Slowest) > 0 {
		slowest := s.Slowest[0]
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Slowest:"),
				valueStyle.Render(formatMs(slowest.Duration)),
				mutedStyle.Render(" ("+slowest.Name+")"),
			),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Execution Time")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Failure Statistics
// =============================================================================

func (m Model) hasFailures() bool {
	if m.stats == nil {
		return false
	}
	return len(m.stats.Failed) > 0
}

func (m Model) renderFailureStats() string {
	if m.stats == nil {
		return ""
	}

	// Most recent failures first, bounded to fit the screen
	maxRows := m.height / 4
	if maxRows < 3 {
		maxRows = 3
	}

	failed := m.stats.Failed
	var rows []string
	for i := len(failed) - 1; i >= 0; i-- {
		if len(rows) >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more", len(failed)-maxRows)))
			break
		}
		res := failed[i]
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				valueBadStyle.Render(fmt.Sprintf("[%s] ", res.Status)),
				valueStyle.Render(res.Name),
				mutedStyle.Render(fmt.Sprintf("  (%s)", formatMs(res.Duration))),
			),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Failures")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Running Tests
// =============================================================================

func (m Model) renderRunningTests() string {
	maxRows := m.height / 4
	if maxRows < 3 {
		maxRows = 3
	}

	var rows []string
	for i, name := range m.running {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more", len(m.running)-maxRows)))
			break
		}
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				statusInfo.Render("▶ "),
				valueStyle.Render(name),
			),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Running")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Recent Output
// =============================================================================

func (m Model) renderOutputTail() string {
	maxLineLen := m.width - 8
	if maxLineLen < 20 {
		maxLineLen = 20
	}

	var rows []string
	for _, line := range m.outputTail {
		if len(line) > maxLineLen {
			line = line[:maxLineLen-3] + "..."
		}
		rows = append(rows, dimStyle.Render(line))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Recent Output")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Test Table (Detailed View)
// =============================================================================

func (m Model) renderTestTable() string {
	if m.stats == nil || len(m.stats.Slowest) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No per-test data available. Press 'd' to toggle."),
		)
	}

	// Table header
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-40s %12s", "Test", "Duration"),
	)

	// Table rows (limit to fit screen)
	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, timing := range m.stats.Slowest {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more tests", len(m.stats.Slowest)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		row := fmt.Sprintf("%-40s %12s", timing.Name, formatMs(timing.Duration))
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Slowest Tests"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	// Keyboard shortcuts
	shortcuts := []string{
		"q: quit",
		"d: toggle details",
		"r: refresh",
	}

	// Metrics endpoint (if enabled)
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
