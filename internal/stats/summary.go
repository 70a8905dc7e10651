// Exit summary formatter: renders comprehensive run statistics at exit.
package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/randomizedcoder/go-test-runner/internal/result"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// TargetTests is the number of tests that were requested.
	TargetTests int

	// Workers is the parallel worker count used (1 = sequential).
	Workers int

	// PeakRunning is the observed peak of concurrently executing tests
	// (0 = not sampled).
	PeakRunning int

	// Duration is the total run duration.
	Duration time.Duration

	// MetricsAddr is the Prometheus endpoint address ("" = disabled).
	MetricsAddr string

	// StreamDegraded indicates the live output stream dropped chunks.
	StreamDegraded bool
	DroppedChunks  int64
}

// FormatRunSummary formats the run statistics for display at exit.
func FormatRunSummary(snap RunStats, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n")
	b.WriteString("                           go-test-runner Run Summary\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n\n")

	if cfg.StreamDegraded {
		b.WriteString("⚠️  OUTPUT STREAM DEGRADED: display could not keep up with test output\n")
		fmt.Fprintf(&b, "    Chunks dropped: %s (captured results are unaffected)\n\n",
			FormatNumber(cfg.DroppedChunks))
	}

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Tests Requested:        %d\n", cfg.TargetTests)
	if cfg.Workers > 1 {
		fmt.Fprintf(&b, "Parallel Workers:       %d\n", cfg.Workers)
	}
	if cfg.PeakRunning > 0 {
		fmt.Fprintf(&b, "Peak Running:           %d\n", cfg.PeakRunning)
	}
	b.WriteString("\n")

	b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
	b.WriteString("                                   Results\n")
	b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

	fmt.Fprintf(&b, "  %-16s %8s\n", "Status", "Count")
	b.WriteString("  " + strings.Repeat("─", 26) + "\n")
	writeStatusRow(&b, "Success", snap.Success)
	writeStatusRow(&b, "Failure", snap.Failure)
	writeStatusRow(&b, "Timeout", snap.Timeout)
	writeStatusRow(&b, "Crash", snap.Crash)
	writeStatusRow(&b, "Build Error", snap.BuildErrors)
	writeStatusRow(&b, "System Error", snap.SystemErrors)

	fmt.Fprintf(&b, "\n  Pass Rate:            %.1f%%\n", snap.PassRate*100)
	fmt.Fprintf(&b, "  Output Captured:      %s\n\n", FormatBytes(snap.OutputBytes))

	if snap.DurationP50 > 0 {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		b.WriteString("                               Execution Time\n")
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(snap.DurationP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(snap.DurationP95))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatMs(snap.DurationP99))

		if len(snap.Slowest) > 0 {
			b.WriteString("\n  Slowest tests:\n")
			for _, timing := range snap.Slowest {
				fmt.Fprintf(&b, "    %-40s %s\n", timing.Name, FormatMs(timing.Duration))
			}
		}
		b.WriteString("\n")
	}

	if len(snap.Metrics) > 0 {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		b.WriteString("                            Performance Metrics\n")
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

		fmt.Fprintf(&b, "  %-24s %8s %10s %10s %10s\n", "Metric", "Samples", "P50", "P95", "P99")
		b.WriteString("  " + strings.Repeat("─", 66) + "\n")
		for _, label := range sortedMetricLabels(snap.Metrics) {
			m := snap.Metrics[label]
			fmt.Fprintf(&b, "  %-24s %8d %8.1fms %8.1fms %8.1fms\n",
				label, m.Count, m.P50, m.P95, m.P99)
		}
		b.WriteString("\n")
	}

	if len(snap.Failed) > 0 {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		b.WriteString("                                Failed Tests\n")
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

		for _, res := range snap.Failed {
			fmt.Fprintf(&b, "  [%s] %s\n", statusLabel(res.Status), res.Name)
			if res.Message != "" {
				fmt.Fprintf(&b, "      %s\n", res.Message)
			}
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		fmt.Fprintf(&b, "  Metrics were available at http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n")

	return b.String()
}

// writeStatusRow writes one result row, skipping zero counts for
// non-success statuses to keep the table short.
func writeStatusRow(b *strings.Builder, label string, count int64) {
	if count == 0 && label != "Success" {
		return
	}
	fmt.Fprintf(b, "  %-16s %8d\n", label, count)
}

// statusLabel maps a status to its display label in the failed list.
func statusLabel(s result.Status) string {
	switch s {
	case result.Failure:
		return "FAILED"
	case result.Timeout:
		return "TIMEOUT"
	case result.Crash:
		return "CRASHED"
	case result.BuildError:
		return "BUILD ERROR"
	case result.SystemError:
		return "SYSTEM ERROR"
	default:
		return strings.ToUpper(s.String())
	}
}

func sortedMetricLabels(metrics map[string]MetricSummary) []string {
	labels := make([]string, 0, len(metrics))
	for label := range metrics {
		labels = append(labels, label)
	}
	// Small map: insertion sort keeps the output deterministic.
	for i := 1; i < len(labels); i++ {
		for j := i; j > 0 && labels[j] < labels[j-1]; j-- {
			labels[j], labels[j-1] = labels[j-1], labels[j]
		}
	}
	return labels
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
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

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
