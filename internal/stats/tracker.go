// Package stats tracks live run statistics and formats the exit summary.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-test-runner/internal/result"
)

// TestTiming pairs a test name with its execution time.
type TestTiming struct {
	Name     string
	Duration time.Duration
}

// MetricSummary holds percentiles for one labeled performance metric
// extracted from test output ("<label>: N ms" lines).
type MetricSummary struct {
	Count int64
	P50   float64
	P95   float64
	P99   float64
}

// RunStats is a point-in-time snapshot of a run.
type RunStats struct {
	Started   int64
	Completed int64

	Success      int64
	Failure      int64
	Timeout      int64
	Crash        int64
	BuildErrors  int64
	SystemErrors int64

	// PassRate is successes over completed, 0..1.
	PassRate float64

	OutputBytes int64
	Elapsed     time.Duration

	// Execution-time percentiles across completed tests.
	DurationP50 time.Duration
	DurationP95 time.Duration
	DurationP99 time.Duration

	// Slowest holds up to the five longest tests, descending.
	Slowest []TestTiming

	// Failed holds every non-success result seen so far, in completion order.
	Failed []result.Result

	// Metrics aggregates labeled performance metrics across tests.
	Metrics map[string]MetricSummary
}

// Tracker accumulates results as they complete. Safe for concurrent use
// by parallel workers: counters are atomic, the digests sit behind one
// mutex taken only per completed test.
type Tracker struct {
	started   atomic.Int64
	completed atomic.Int64

	success      atomic.Int64
	failure      atomic.Int64
	timeout      atomic.Int64
	crash        atomic.Int64
	buildErrors  atomic.Int64
	systemErrors atomic.Int64

	outputBytes atomic.Int64

	mu        sync.Mutex
	durations *tdigest.TDigest
	timings   []TestTiming
	failed    []result.Result

	metricsMu sync.Mutex
	metrics   map[string]*metricDigest

	startTime time.Time
}

type metricDigest struct {
	count  int64
	digest *tdigest.TDigest
}

// NewTracker creates an empty tracker; the run clock starts now.
func NewTracker() *Tracker {
	return &Tracker{
		durations: tdigest.NewWithCompression(100),
		metrics:   make(map[string]*metricDigest),
		startTime: time.Now(),
	}
}

// RecordStart notes that a test has been spawned.
func (t *Tracker) RecordStart(name string) {
	t.started.Add(1)
}

// RecordResult folds one completed result into the tracker.
func (t *Tracker) RecordResult(res result.Result) {
	t.completed.Add(1)
	t.outputBytes.Add(int64(len(res.Stdout) + len(res.Stderr)))

	switch res.Status {
	case result.Success:
		t.success.Add(1)
	case result.Failure:
		t.failure.Add(1)
	case result.Timeout:
		t.timeout.Add(1)
	case result.Crash:
		t.crash.Add(1)
	case result.BuildError:
		t.buildErrors.Add(1)
	case result.SystemError:
		t.systemErrors.Add(1)
	}

	t.mu.Lock()
	if res.Duration > 0 {
		t.durations.Add(float64(res.Duration), 1)
		t.timings = append(t.timings, TestTiming{Name: res.Name, Duration: res.Duration})
	}
	if res.Failed() {
		t.failed = append(t.failed, res)
	}
	t.mu.Unlock()
}

// RecordMetric folds one labeled performance sample (milliseconds) into
// the per-label digest. Fed from classifier output.
func (t *Tracker) RecordMetric(label string, ms float64) {
	t.metricsMu.Lock()
	defer t.metricsMu.Unlock()

	md, ok := t.metrics[label]
	if !ok {
		md = &metricDigest{digest: tdigest.NewWithCompression(100)}
		t.metrics[label] = md
	}
	md.count++
	md.digest.Add(ms, 1)
}

// Started returns the number of spawned tests.
func (t *Tracker) Started() int64 {
	return t.started.Load()
}

// Completed returns the number of finished tests.
func (t *Tracker) Completed() int64 {
	return t.completed.Load()
}

// Snapshot returns a consistent copy of the current statistics.
func (t *Tracker) Snapshot() RunStats {
	s := RunStats{
		Started:      t.started.Load(),
		Completed:    t.completed.Load(),
		Success:      t.success.Load(),
		Failure:      t.failure.Load(),
		Timeout:      t.timeout.Load(),
		Crash:        t.crash.Load(),
		BuildErrors:  t.buildErrors.Load(),
		SystemErrors: t.systemErrors.Load(),
		OutputBytes:  t.outputBytes.Load(),
		Elapsed:      time.Since(t.startTime),
	}

	if s.Completed > 0 {
		s.PassRate = float64(s.Success) / float64(s.Completed)
	}

	t.mu.Lock()
	if len(t.timings) > 0 {
		s.DurationP50 = time.Duration(t.durations.Quantile(0.50))
		s.DurationP95 = time.Duration(t.durations.Quantile(0.95))
		s.DurationP99 = time.Duration(t.durations.Quantile(0.99))

		timings := make([]TestTiming, len(t.timings))
		copy(timings, t.timings)
		sort.Slice(timings, func(i, j int) bool {
			return timings[i].Duration > timings[j].Duration
		})
		if len(timings) > 5 {
			timings = timings[:5]
		}
		s.Slowest = timings
	}
	if len(t.failed) > 0 {
		s.Failed = make([]result.Result, len(t.failed))
		copy(s.Failed, t.failed)
	}
	t.mu.Unlock()

	t.metricsMu.Lock()
	if len(t.metrics) > 0 {
		s.Metrics = make(map[string]MetricSummary, len(t.metrics))
		for label, md := range t.metrics {
			s.Metrics[label] = MetricSummary{
				Count: md.count,
				P50:   md.digest.Quantile(0.50),
				P95:   md.digest.Quantile(0.95),
				P99:   md.digest.Quantile(0.99),
			}
		}
	}
	t.metricsMu.Unlock()

	return s
}
