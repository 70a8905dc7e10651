package logging

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines to buffer per test.
	MaxBufferedLines = 100
)

// OutputHandler handles streamed output from a test process.
// It buffers recent lines for the exit summary and logs them.
type OutputHandler struct {
	testName string
	logger   *slog.Logger
	verbose  bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a new output handler for a test.
func NewOutputHandler(testName string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		testName: testName,
		logger:   logger,
		verbose:  verbose,
		buffer:   make([]string, MaxBufferedLines),
	}
}

// HandleReader reads from an io.Reader and processes each line.
// This should be run in a goroutine.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	// Use a larger buffer for long output lines
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		line := scanner.Text()
		h.HandleLine(line)
	}
}

// HandleLine processes a single line of test output.
func (h *OutputHandler) HandleLine(line string) {
	// Truncate if too long
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	// Store in circular buffer
	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	// Log based on content and verbosity
	h.logLine(line)
}

// logLine logs the line at appropriate level based on content.
func (h *OutputHandler) logLine(line string) {
	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(nil, level, "test_output",
		"test", h.testName,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func (h *OutputHandler) classifyLine(line string) slog.Level {
	// Failure markers from the test protocol
	if strings.Contains(line, "ASSERTION FAILED") ||
		strings.Contains(line, "FAILED") ||
		strings.Contains(line, "ERROR") {
		return slog.LevelWarn
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "timeout") {
		return slog.LevelWarn
	}

	// Success markers and debug chatter stay quiet
	if strings.Contains(line, "PASSED") ||
		strings.HasPrefix(line, "DEBUG:") {
		return slog.LevelDebug
	}

	// Default to debug
	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	// Read from circular buffer in order
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// FailureMarkers are common markers to extract for the exit summary.
var FailureMarkers = []string{
	"ASSERTION FAILED",
	"FAILED",
	"ERROR",
	"timeout",
	"TIMEOUT",
}

// CountMarkers counts occurrences of failure markers in the buffer.
func (h *OutputHandler) CountMarkers() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, marker := range FailureMarkers {
			if strings.Contains(line, marker) {
				counts[marker]++
			}
		}
	}

	return counts
}
