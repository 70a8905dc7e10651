// Package metrics provides Prometheus metrics for go-test-runner.
//
// All metrics are aggregate: labels stay low-cardinality (status, phase)
// so the endpoint is safe to scrape regardless of how many tests a run
// executes.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"

	"github.com/randomizedcoder/go-test-runner/internal/result"
)

// buildInfoOnce guards the process-wide build-info collector, which can
// only live on the default registry once.
var buildInfoOnce sync.Once

func registerBuildInfo(ver string) {
	buildInfoOnce.Do(func() {
		version.Version = ver
		prometheus.MustRegister(versioncollector.NewCollector("go_test_runner"))
	})
}

// --- Panel 1: Run Overview ---
var (
	runnerInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "testrunner_info",
			Help: "Information about the test run (value always 1)",
		},
		[]string{"version", "work_dir"},
	)

	runnerTargetTests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_target_tests",
			Help: "Number of tests scheduled for this run",
		},
	)

	runnerWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_workers",
			Help: "Configured parallel worker count",
		},
	)

	runnerRunningTests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_running_tests",
			Help: "Tests currently executing",
		},
	)

	runnerCompletedTests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_completed_tests",
			Help: "Tests completed so far",
		},
	)

	runnerElapsedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_elapsed_seconds",
			Help: "Seconds since the run started",
		},
	)
)

// --- Panel 2: Results ---
var (
	runnerTestsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "testrunner_tests_started_total",
			Help: "Test processes started",
		},
	)

	runnerTestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testrunner_tests_total",
			Help: "Completed tests by final status",
		},
		[]string{"status"},
	)

	runnerTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "testrunner_timeouts_total",
			Help: "Tests killed for exceeding their timeout",
		},
	)

	runnerSpawnErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "testrunner_spawn_errors_total",
			Help: "Tests that failed before or during process spawn",
		},
	)

	runnerOutputBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "testrunner_output_bytes_total",
			Help: "Total captured stdout+stderr bytes",
		},
	)
)

// --- Panel 3: Execution Time ---
var (
	runnerTestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "testrunner_test_duration_seconds",
			Help: "Test execution time distribution",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1,
				0.25, 0.5, 1.0, 2.5, 5.0,
				10.0, 30.0, 60.0, 300.0,
			},
		},
	)

	runnerDurationP50Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_test_duration_p50_seconds",
			Help: "Test execution time 50th percentile (median)",
		},
	)

	runnerDurationP95Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_test_duration_p95_seconds",
			Help: "Test execution time 95th percentile",
		},
	)

	runnerDurationP99Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrunner_test_duration_p99_seconds",
			Help: "Test execution time 99th percentile",
		},
	)
)

// --- Panel 4: Termination ---
var (
	runnerTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testrunner_terminations_total",
			Help: "Forced process terminations by phase",
		},
		[]string{"phase"}, // "graceful" | "forceful"
	)
)

// Collector manages all Prometheus metrics for a run.
type Collector struct {
	targetTests int
	startTime   time.Time

	// For summary generation
	mu          sync.Mutex
	started     int64
	completed   int64
	byStatus    map[result.Status]int64
	durations   []time.Duration
	peakRunning int
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version     string
	WorkDir     string
	TargetTests int
	Workers     int
}

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	registerBuildInfo(cfg.Version)
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		targetTests: cfg.TargetTests,
		startTime:   time.Now(),
		byStatus:    make(map[result.Status]int64),
		durations:   make([]time.Duration, 0, cfg.TargetTests),
	}

	registry.MustRegister(
		// Panel 1: Run Overview
		runnerInfo,
		runnerTargetTests,
		runnerWorkers,
		runnerRunningTests,
		runnerCompletedTests,
		runnerElapsedSeconds,

		// Panel 2: Results
		runnerTestsStartedTotal,
		runnerTestsTotal,
		runnerTimeoutsTotal,
		runnerSpawnErrorsTotal,
		runnerOutputBytesTotal,

		// Panel 3: Execution Time
		runnerTestDurationSeconds,
		runnerDurationP50Seconds,
		runnerDurationP95Seconds,
		runnerDurationP99Seconds,

		// Panel 4: Termination
		runnerTerminationsTotal,
	)

	// Set initial values
	runnerInfo.WithLabelValues(cfg.Version, cfg.WorkDir).Set(1)
	runnerTargetTests.Set(float64(cfg.TargetTests))
	runnerWorkers.Set(float64(cfg.Workers))

	return c
}

// RecordStart counts a spawned test process.
func (c *Collector) RecordStart() {
	runnerTestsStartedTotal.Inc()

	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

// RecordResult updates metrics from one completed test.
func (c *Collector) RecordResult(res result.Result) {
	runnerTestsTotal.WithLabelValues(res.Status.String()).Inc()
	runnerTestDurationSeconds.Observe(res.Duration.Seconds())
	runnerOutputBytesTotal.Add(float64(len(res.Stdout) + len(res.Stderr)))

	if res.Status == result.Timeout {
		runnerTimeoutsTotal.Inc()
	}
	if res.Status == result.SystemError || res.Status == result.BuildError {
		runnerSpawnErrorsTotal.Inc()
	}

	c.mu.Lock()
	c.completed++
	c.byStatus[res.Status]++
	c.durations = append(c.durations, res.Duration)
	completed := c.completed
	c.mu.Unlock()

	runnerCompletedTests.Set(float64(completed))
	runnerElapsedSeconds.Set(time.Since(c.startTime).Seconds())
	c.updatePercentiles()
}

// SetRunning updates the in-flight test gauge.
func (c *Collector) SetRunning(count int) {
	runnerRunningTests.Set(float64(count))

	c.mu.Lock()
	if count > c.peakRunning {
		c.peakRunning = count
	}
	c.mu.Unlock()
}

// RecordTermination records a forced termination by phase
// ("graceful" or "forceful").
func (c *Collector) RecordTermination(phase string) {
	runnerTerminationsTotal.WithLabelValues(phase).Inc()
}

// updatePercentiles recomputes the convenience percentile gauges.
func (c *Collector) updatePercentiles() {
	c.mu.Lock()
	sorted := make([]time.Duration, len(c.durations))
	copy(sorted, c.durations)
	c.mu.Unlock()

	if len(sorted) == 0 {
		return
	}
	sortDurations(sorted)

	runnerDurationP50Seconds.Set(percentile(sorted, 0.50).Seconds())
	runnerDurationP95Seconds.Set(percentile(sorted, 0.95).Seconds())
	runnerDurationP99Seconds.Set(percentile(sorted, 0.99).Seconds())
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration    time.Duration
	TargetTests int
	Started     int64
	Completed   int64
	PeakRunning int
	ByStatus    map[result.Status]int64
	DurationP50 time.Duration
	DurationP95 time.Duration
	DurationP99 time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		TargetTests: c.targetTests,
		Started:     c.started,
		Completed:   c.completed,
		PeakRunning: c.peakRunning,
		ByStatus:    make(map[result.Status]int64, len(c.byStatus)),
	}
	for status, count := range c.byStatus {
		s.ByStatus[status] = count
	}

	if len(c.durations) > 0 {
		sorted := make([]time.Duration, len(c.durations))
		copy(sorted, c.durations)
		sortDurations(sorted)

		s.DurationP50 = percentile(sorted, 0.50)
		s.DurationP95 = percentile(sorted, 0.95)
		s.DurationP99 = percentile(sorted, 0.99)
	}

	return s
}

// Completed returns the number of completed tests recorded so far.
func (c *Collector) Completed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// PeakRunning returns the peak in-flight test count.
func (c *Collector) PeakRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakRunning
}

// sortDurations sorts a slice of durations in place.
func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j] < d[j-1]; j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
