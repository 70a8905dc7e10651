// Package parser post-processes captured test output.
//
// The classifier extracts structured signals (pass/fail markers, assertion
// counts, performance metrics) from already-captured text for reporting
// consumption. It never touches a live process.
//
// The Stream type carries live output chunks to observers through a
// bounded, lossy-by-design channel so a slow consumer can never block a
// wait loop.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-test-runner/internal/result"
)

var (
	// "12 assertions passed" / "1 assertion failed"
	assertionRe = regexp.MustCompile(`(\d+)\s+assertion[s]?\s+(?:passed|failed)`)

	// "ASSERTION FAILED: expected 4, got 5"
	failureRe = regexp.MustCompile(`ASSERTION FAILED:([^\n]+)`)

	// "decode_time: 12.5 ms"
	metricRe = regexp.MustCompile(`(\w+):\s*(\d+(?:\.\d+)?)\s*ms`)

	timeoutTokenRe = regexp.MustCompile(`timeout|TIMEOUT`)
)

// Analysis holds the structured signals extracted from one test's output.
type Analysis struct {
	// StatusToken is "passed", "failed", or "" when neither marker appears.
	StatusToken string

	// Assertions is the reported assertion count, 0 when absent.
	Assertions int

	// Failures holds the literal text of each assertion-failure line.
	Failures []string

	// Metrics maps metric labels to values in milliseconds.
	Metrics map[string]float64
}

// Analyze extracts structured signals from captured output.
func Analyze(text string) Analysis {
	a := Analysis{}

	if strings.Contains(text, "PASSED") {
		a.StatusToken = "passed"
	} else if strings.Contains(text, "FAILED") {
		a.StatusToken = "failed"
	}

	if m := assertionRe.FindStringSubmatch(text); m != nil {
		a.Assertions, _ = strconv.Atoi(m[1])
	}

	for _, m := range failureRe.FindAllStringSubmatch(text, -1) {
		a.Failures = append(a.Failures, m[1])
	}

	for _, m := range metricRe.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if a.Metrics == nil {
			a.Metrics = make(map[string]float64)
		}
		a.Metrics[m[1]] = v
	}

	return a
}

// Filter keeps only lines bearing status, error, or assertion markers.
// Lines containing "DEBUG:" are dropped unless includeDebug is set.
// Each kept line is newline-terminated.
func Filter(text string, includeDebug bool) string {
	var b strings.Builder

	for _, line := range strings.Split(text, "\n") {
		if !includeDebug && strings.Contains(line, "DEBUG:") {
			continue
		}
		if strings.Contains(line, "PASSED") ||
			strings.Contains(line, "FAILED") ||
			strings.Contains(line, "ERROR") ||
			strings.Contains(line, "ASSERTION") {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return b.String()
}

var (
	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	timeoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// Colorize highlights pass/fail/timeout tokens for terminal display
// according to the test's classified status. Other statuses return the
// text unchanged.
func Colorize(text string, status result.Status) string {
	switch status {
	case result.Success:
		return strings.ReplaceAll(text, "PASSED", passedStyle.Render("PASSED"))
	case result.Failure:
		return strings.ReplaceAll(text, "FAILED", failedStyle.Render("FAILED"))
	case result.Timeout:
		return timeoutTokenRe.ReplaceAllStringFunc(text, func(tok string) string {
			return timeoutStyle.Render(tok)
		})
	default:
		return text
	}
}
