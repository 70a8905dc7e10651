// Package harness wires the engine components into a complete run:
// preflight, executor, stats, metrics, live output, and the exit summary.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-test-runner/internal/config"
	"github.com/randomizedcoder/go-test-runner/internal/executor"
	"github.com/randomizedcoder/go-test-runner/internal/logging"
	"github.com/randomizedcoder/go-test-runner/internal/metrics"
	"github.com/randomizedcoder/go-test-runner/internal/parser"
	"github.com/randomizedcoder/go-test-runner/internal/preflight"
	"github.com/randomizedcoder/go-test-runner/internal/result"
	"github.com/randomizedcoder/go-test-runner/internal/stats"
	"github.com/randomizedcoder/go-test-runner/internal/supervisor"
	"github.com/randomizedcoder/go-test-runner/internal/timeseries"
	"github.com/randomizedcoder/go-test-runner/internal/tui"
)

// progressLogInterval is how many completions pass between progress log
// lines when the TUI is off.
const progressLogInterval = 10

// sampleInterval drives the rolling-rate sample tickers and the
// running-tests gauge.
const sampleInterval = 1 * time.Second

// Harness coordinates all components for a test run.
type Harness struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	executor      *executor.Executor
	tracker       *stats.Tracker
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	stream        *parser.Stream
	completedRate *timeseries.RateTracker
	outputRate    *timeseries.RateTracker

	program *tea.Program // nil when the TUI is off

	// Per-test output handlers, populated by the stream consumer. Their
	// ring buffers feed the failed-test output section after the run.
	handlersMu sync.Mutex
	handlers   map[string]*logging.OutputHandler

	targetTests int
	startTime   time.Time
}

// ExitStats summarizes a completed run for exit-code computation.
type ExitStats struct {
	Started    int
	Completed  int64
	NonSuccess int64
	Results    []result.Result
}

// AllPassed reports whether every test finished with Success.
func (s ExitStats) AllPassed() bool {
	return s.NonSuccess == 0
}

// New creates a new Harness with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Harness {
	h := &Harness{
		config:        cfg,
		logger:        logger,
		version:       "dev",
		tracker:       stats.NewTracker(),
		completedRate: timeseries.NewRateTracker(),
		outputRate:    timeseries.NewRateTracker(),
		handlers:      make(map[string]*logging.OutputHandler),
	}

	if cfg.Stream || cfg.TUIEnabled {
		h.stream = parser.NewStream(4096, 0.10)
	}

	return h
}

// SetVersion records the build version exposed via metrics and logs.
func (h *Harness) SetVersion(v string) {
	if v != "" {
		h.version = v
	}
}

// Run executes the suite. It blocks until every test has completed or a
// signal terminates the run early.
func (h *Harness) Run(ctx context.Context) (ExitStats, error) {
	h.startTime = time.Now()

	workers := 1
	if h.config.Parallel {
		workers = h.config.MaxParallel
	}

	// Preflight checks
	if !h.config.SkipPreflight || h.config.Check {
		res := preflight.RunAll(workers, h.config.WorkDir)
		preflight.PrintResults(res)
		if !res.Passed {
			return ExitStats{}, fmt.Errorf("preflight checks failed (use --skip-preflight to override)")
		}
	}
	if h.config.Check {
		fmt.Println("Configuration OK.")
		return ExitStats{}, nil
	}

	env, err := h.resolveEnv()
	if err != nil {
		return ExitStats{}, err
	}

	tcs := buildTestCases(h.config.Tests)
	h.targetTests = len(tcs)

	// Metrics collector and scrape endpoint
	if h.config.MetricsEnabled {
		h.metrics = metrics.NewCollector(metrics.CollectorConfig{
			Version:     h.version,
			WorkDir:     h.config.WorkDir,
			TargetTests: len(tcs),
			Workers:     workers,
		})
		h.metricsServer = metrics.NewServer(h.config.MetricsAddr, h.logger)
		if err := h.metricsServer.Start(); err != nil {
			return ExitStats{}, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	h.executor = executor.New(executor.Config{
		DefaultTimeout: h.config.Timeout,
		Parallel:       h.config.Parallel,
		MaxWorkers:     workers,
		WorkDir:        h.config.WorkDir,
		Env:            env,
		Capture:        h.config.Capture,
		OnOutput:       h.onOutput,
		OnResult:       h.onResult,
		Logger:         h.logger,
		Callbacks: supervisor.Callbacks{
			OnStart:       h.onStart,
			OnTermination: h.onTermination,
		},
	})

	// Signal handling: first signal stops new tests and kills in-flight
	// ones; the run then falls through to the normal summary path.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			h.logger.Info("received_signal", "signal", sig.String())
			h.executor.TerminateAll()
			cancel()
		case <-ctx.Done():
			h.executor.TerminateAll()
		}
	}()

	// Live output consumer
	var consumerWg sync.WaitGroup
	if h.stream != nil {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			h.consumeStream()
		}()
	}

	// Sample ticker for rolling rates and the running-tests gauge
	tickerDone := make(chan struct{})
	go h.sampleLoop(tickerDone)

	// Live dashboard
	var tuiDone chan struct{}
	if h.config.TUIEnabled {
		model := tui.New(tui.Config{
			TargetTests:   len(tcs),
			MetricsAddr:   h.metricsAddr(),
			StatsSource:   h.tracker,
			RunningSource: h.executor,
			RateTracker:   h.completedRate,
			Stream:        h.stream,
			OnQuit: func() {
				h.executor.TerminateAll()
				cancel()
			},
		})
		h.program = tea.NewProgram(model, tea.WithAltScreen())

		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := h.program.Run(); err != nil {
				h.logger.Warn("tui_error", "error", err)
			}
		}()
	}

	h.logger.Info("run_starting",
		"tests", len(tcs),
		"workers", workers,
		"timeout", h.config.Timeout.String(),
	)

	results := h.executor.ExecuteTestsParallel(tcs, workers)

	// Teardown: stop samplers and live consumers before the summary prints.
	close(tickerDone)
	if h.stream != nil {
		h.stream.Close()
		consumerWg.Wait()
	}
	if h.program != nil {
		tui.SendQuit(h.program)
		<-tuiDone
	}

	h.printExitSummary(workers)
	h.printTestOutput(results)

	if h.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := h.metricsServer.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}

	snap := h.tracker.Snapshot()
	h.logger.Info("run_complete",
		"completed", snap.Completed,
		"success", snap.Success,
		"pass_rate", fmt.Sprintf("%.3f", snap.PassRate),
		"tests_per_sec", fmt.Sprintf("%.2f", h.completedRate.GetStats().AvgOverall),
		"output_bytes_per_sec", fmt.Sprintf("%.0f", h.outputRate.GetStats().AvgOverall),
	)

	return ExitStats{
		Started:    len(tcs),
		Completed:  snap.Completed,
		NonSuccess: snap.Completed - snap.Success,
		Results:    results,
	}, nil
}

// resolveEnv merges the env file (if any) with explicit -env flags.
// Explicit flags win on conflicts.
func (h *Harness) resolveEnv() (map[string]string, error) {
	var fromFile map[string]string
	if h.config.EnvFile != "" {
		m, err := config.LoadEnvFile(h.config.EnvFile)
		if err != nil {
			return nil, err
		}
		fromFile = m
	}
	return config.MergeEnv(fromFile, h.config.Env), nil
}

// buildTestCases maps test binary paths to executor descriptors. The
// logical name is the file basename without extension.
func buildTestCases(paths []string) []executor.TestCase {
	tcs := make([]executor.TestCase, 0, len(paths))
	for _, p := range paths {
		tcs = append(tcs, executor.TestCase{
			Name: testName(p),
			Path: p,
		})
	}
	return tcs
}

func testName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Callback handlers

func (h *Harness) onStart(name string, pid int) {
	h.tracker.RecordStart(name)

	if h.metrics != nil {
		h.metrics.RecordStart()
	}

	if h.config.Verbose {
		h.logger.Debug("test_process_started", "test", name, "pid", pid)
	}
}

func (h *Harness) onOutput(name, chunk string) {
	h.outputRate.Add(int64(len(chunk)))

	if h.stream != nil {
		h.stream.Feed(name, chunk)
	}
}

func (h *Harness) onResult(res result.Result) {
	h.tracker.RecordResult(res)
	h.completedRate.Add(1)

	if h.metrics != nil {
		h.metrics.RecordResult(res)
	}

	// Performance metrics embedded in the output ("decode_time: 12.5 ms")
	a := parser.Analyze(res.Stdout + res.Stderr)
	for label, ms := range a.Metrics {
		h.tracker.RecordMetric(label, ms)
	}

	completed := h.tracker.Completed()
	if !h.config.TUIEnabled &&
		(completed%progressLogInterval == 0 || completed == int64(h.targetTests)) {
		h.logger.Info("run_progress",
			"completed", completed,
			"target", h.targetTests,
			"running", h.executor.RunningTestCount(),
		)
	}
}

func (h *Harness) onTermination(name string, phase string) {
	if h.metrics != nil {
		h.metrics.RecordTermination(phase)
	}
}

// consumeStream drains live output events into the log handlers and the
// TUI tail. Each test gets its own handler fed through a pipe, so a
// chunk ending mid-line is held until the rest of the line arrives and
// the per-test ring buffers and marker counting stay intact.
func (h *Harness) consumeStream() {
	writers := make(map[string]*io.PipeWriter)
	var readers sync.WaitGroup

	for ev := range h.stream.Events() {
		if h.config.Stream {
			pw, ok := writers[ev.Test]
			if !ok {
				var pr *io.PipeReader
				pr, pw = io.Pipe()
				writers[ev.Test] = pw

				handler := logging.NewOutputHandler(ev.Test, h.logger, h.config.IncludeDebug)
				h.handlersMu.Lock()
				h.handlers[ev.Test] = handler
				h.handlersMu.Unlock()

				readers.Add(1)
				go func() {
					defer readers.Done()
					handler.HandleReader(pr)
				}()
			}
			io.WriteString(pw, ev.Chunk)
		}
		if h.program != nil {
			for _, line := range strings.Split(strings.TrimRight(ev.Chunk, "\n"), "\n") {
				if line == "" {
					continue
				}
				tui.SendOutput(h.program, ev.Test, line)
			}
		}
	}

	for _, pw := range writers {
		pw.Close()
	}
	readers.Wait()
}

// handlerFor returns the output handler for a test, or nil when the
// test never streamed anything.
func (h *Harness) handlerFor(name string) *logging.OutputHandler {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	return h.handlers[name]
}

// sampleLoop drives the rolling-window rate trackers and the
// running-tests gauge until the run completes.
func (h *Harness) sampleLoop(done <-chan struct{}) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.completedRate.RecordSample()
			h.outputRate.RecordSample()
			if h.metrics != nil {
				h.metrics.SetRunning(h.executor.RunningTestCount())
			}
		}
	}
}

// metricsAddr returns the scrape address, or "" when metrics are off.
func (h *Harness) metricsAddr() string {
	if h.config.MetricsEnabled {
		return h.config.MetricsAddr
	}
	return ""
}

// printExitSummary prints the formatted run summary.
func (h *Harness) printExitSummary(workers int) {
	var dropped int64
	degraded := false
	if h.stream != nil {
		_, dropped = h.stream.Stats()
		degraded = h.stream.IsDegraded()
	}

	peakRunning := 0
	if h.metrics != nil {
		msum := h.metrics.GenerateSummary()
		peakRunning = msum.PeakRunning
		h.logger.Debug("metrics_summary",
			"started", msum.Started,
			"completed", msum.Completed,
			"peak_running", msum.PeakRunning,
			"duration", msum.Duration.String(),
		)
	}

	summary := stats.FormatRunSummary(h.tracker.Snapshot(), stats.SummaryConfig{
		TargetTests:    h.targetTests,
		Workers:        workers,
		PeakRunning:    peakRunning,
		Duration:       time.Since(h.startTime),
		MetricsAddr:    h.metricsAddr(),
		StreamDegraded: degraded,
		DroppedChunks:  dropped,
	})
	fmt.Print(summary)
}

// printTestOutput prints filtered, colorized captured output after the
// summary, honoring the show-output policy.
func (h *Harness) printTestOutput(results []result.Result) {
	if h.config.ShowOutput == "none" || !h.config.Capture {
		return
	}

	for _, res := range results {
		if h.config.ShowOutput == "failed" && res.Status == result.Success {
			continue
		}

		handler := h.handlerFor(res.Name)

		text := res.Stdout + res.Stderr
		if handler != nil && strings.Count(text, "\n") > logging.MaxBufferedLines {
			// Very chatty test: show the streamed tail instead of the
			// full capture.
			tail := handler.RecentLines(logging.MaxBufferedLines)
			text = fmt.Sprintf("... (last %d lines)\n%s\n", len(tail), strings.Join(tail, "\n"))
		}

		filtered := parser.Filter(text, h.config.IncludeDebug)
		if filtered == "" && res.Message == "" {
			continue
		}

		fmt.Printf("\n─── %s [%s] ───\n", res.Name, res.Status)
		if res.Message != "" {
			fmt.Println(res.Message)
		}
		if filtered != "" {
			fmt.Print(parser.Colorize(filtered, res.Status))
		}
		if handler != nil && res.Status != result.Success {
			if line := formatMarkerCounts(handler.CountMarkers()); line != "" {
				fmt.Println(line)
			}
		}
	}
}

// formatMarkerCounts renders failure-marker counts from the streamed
// output, in the marker table's order for deterministic display.
func formatMarkerCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(counts))
	for _, marker := range logging.FailureMarkers {
		if n, ok := counts[marker]; ok {
			parts = append(parts, fmt.Sprintf("%s ×%d", marker, n))
		}
	}
	return "markers: " + strings.Join(parts, ", ")
}

// Executor returns the executor for external access.
func (h *Harness) Executor() *executor.Executor {
	return h.executor
}

// Tracker returns the stats tracker for external access.
func (h *Harness) Tracker() *stats.Tracker {
	return h.tracker
}
