// Package executor is the engine's public face: it runs one test, a
// sequence of tests, or many tests across a bounded pool of workers, and
// owns the registry of currently-running processes.
//
// Test-level failures never surface as errors; every outcome is a
// result.Result with exactly one status. The only engine-visible failure
// signal is a record tagged SystemError.
package executor

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-test-runner/internal/result"
	"github.com/randomizedcoder/go-test-runner/internal/supervisor"
)

// TestCase is one discovered test descriptor, as handed over by discovery.
type TestCase struct {
	// Name is the logical test name.
	Name string

	// Path is the test executable.
	Path string

	// Timeout overrides the engine default when > 0.
	Timeout time.Duration
}

// Config holds configuration for creating a new Executor.
type Config struct {
	// DefaultTimeout applies to tests without a per-test override.
	DefaultTimeout time.Duration

	// Parallel enables the sharded worker pool; MaxWorkers caps it.
	Parallel   bool
	MaxWorkers int

	// WorkDir is the working directory for spawned tests.
	WorkDir string

	// Env is overlaid on the parent environment for every child.
	Env map[string]string

	// Capture enables stdout/stderr capture.
	Capture bool

	// OnOutput receives streamed output chunks as they are drained.
	OnOutput func(name, chunk string)

	// OnResult is invoked after each test completes (including cancelled
	// entries), for metrics and stats fan-out.
	OnResult func(result.Result)

	Logger    *slog.Logger
	Callbacks supervisor.Callbacks
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		Parallel:       true,
		MaxWorkers:     4,
		WorkDir:        ".",
		Capture:        true,
	}
}

// Executor coordinates supervisor lifecycles and owns global
// configuration. Configuration may be mutated between runs via the
// setters, but not concurrently with an in-flight run.
type Executor struct {
	cfg    Config
	sup    *supervisor.Supervisor
	logger *slog.Logger

	// shutdown prevents new tests from starting. It does not preempt a
	// test already inside its wait loop; TerminateAll kills those.
	shutdown atomic.Bool

	// Running-process registry, keyed by pid. Entries are added at spawn
	// and removed by the housekeeping sweep once liveness goes false.
	running   map[int]*supervisor.Descriptor
	runningMu sync.Mutex
}

// New creates a new Executor with the given configuration.
func New(cfg Config) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Executor{
		cfg:     cfg,
		logger:  cfg.Logger,
		running: make(map[int]*supervisor.Descriptor),
	}
	e.rebuildSupervisor()
	return e
}

// rebuildSupervisor recreates the supervisor after config mutation.
func (e *Executor) rebuildSupervisor() {
	e.sup = supervisor.New(supervisor.Config{
		WorkDir:   e.cfg.WorkDir,
		Env:       e.cfg.Env,
		Capture:   e.cfg.Capture,
		OnOutput:  e.cfg.OnOutput,
		Logger:    e.logger,
		Callbacks: e.cfg.Callbacks,
	})
}

// ExecuteTest runs a single test to completion and returns its result.
func (e *Executor) ExecuteTest(tc TestCase) result.Result {
	res := e.executeSingleTest(tc)
	e.emit(res)
	return res
}

// executeSingleTest validates, spawns, waits, and sweeps the registry.
func (e *Executor) executeSingleTest(tc TestCase) result.Result {
	defer e.sweepRegistry()

	// Validate before ever spawning: missing or non-executable targets
	// are build errors, bounded near-zero latency.
	info, err := os.Stat(tc.Path)
	if err != nil {
		return result.Result{
			Name:    tc.Name,
			Status:  result.BuildError,
			Message: "Test executable not found: " + tc.Path,
		}
	}
	if info.IsDir() || info.Mode().Perm()&0o100 == 0 {
		return result.Result{
			Name:    tc.Name,
			Status:  result.BuildError,
			Message: "Test file is not executable: " + tc.Path,
		}
	}

	// Per-test timeout is resolved once, here, and not adjustable mid-flight.
	timeout := tc.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	d, err := e.sup.Spawn(tc.Path, tc.Name, timeout)
	if err != nil {
		return result.Result{
			Name:    tc.Name,
			Status:  result.SystemError,
			Message: fmt.Sprintf("Failed to spawn test process: %v", err),
		}
	}

	e.runningMu.Lock()
	e.running[d.PID()] = d
	e.runningMu.Unlock()

	return e.sup.Wait(d)
}

// ExecuteTests runs the list strictly sequentially, in list order. Once a
// shutdown request is observed, every remaining test is recorded as
// cancelled rather than silently omitted.
func (e *Executor) ExecuteTests(tcs []TestCase) []result.Result {
	results := make([]result.Result, 0, len(tcs))

	for _, tc := range tcs {
		if e.shutdown.Load() {
			res := cancelledResult(tc.Name)
			e.emit(res)
			results = append(results, res)
			continue
		}
		results = append(results, e.ExecuteTest(tc))
	}

	return results
}

// ExecuteTestsParallel fans the list out across min(maxWorkers, len)
// contiguous, near-equal shards, one worker goroutine per shard. Each
// worker runs its shard sequentially through the single-test path and
// writes results at the original index, so the final collection is
// index-stable regardless of completion order. Falls back to the
// sequential path when parallelism is disabled or maxWorkers <= 1.
func (e *Executor) ExecuteTestsParallel(tcs []TestCase, maxWorkers int) []result.Result {
	if !e.cfg.Parallel || maxWorkers <= 1 || len(tcs) <= 1 {
		return e.ExecuteTests(tcs)
	}

	n := len(tcs)
	workers := maxWorkers
	if workers > n {
		workers = n
	}

	results := make([]result.Result, n)
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	// Earlier shards absorb the remainder so sizes differ by at most one.
	per := n / workers
	rem := n % workers

	e.logger.Debug("parallel_run_starting",
		"tests", n,
		"workers", workers,
	)

	start := 0
	for w := 0; w < workers; w++ {
		size := per
		if w < rem {
			size++
		}
		shard := tcs[start : start+size]
		base := start
		start += size

		wg.Add(1)
		go func(base int, shard []TestCase) {
			defer wg.Done()
			for i, tc := range shard {
				var res result.Result
				if e.shutdown.Load() {
					res = cancelledResult(tc.Name)
					e.emit(res)
				} else {
					res = e.ExecuteTest(tc)
				}
				resultsMu.Lock()
				results[base+i] = res
				resultsMu.Unlock()
			}
		}(base, shard)
	}

	wg.Wait()
	return results
}

// RequestShutdown prevents new tests from starting. In-flight tests run
// to completion or timeout.
func (e *Executor) RequestShutdown() {
	e.shutdown.Store(true)
}

// ShutdownRequested reports whether a shutdown has been requested.
func (e *Executor) ShutdownRequested() bool {
	return e.shutdown.Load()
}

// TerminateAll sets the shutdown flag, forcefully kills every registered
// live process, and clears the registry. Safe to call repeatedly,
// including with nothing running. This is the only path that interrupts
// an in-flight wait from outside (the wait loop classifies the kill).
func (e *Executor) TerminateAll() {
	e.shutdown.Store(true)

	e.runningMu.Lock()
	live := make([]*supervisor.Descriptor, 0, len(e.running))
	for _, d := range e.running {
		live = append(live, d)
	}
	e.running = make(map[int]*supervisor.Descriptor)
	e.runningMu.Unlock()

	killed := 0
	// No registry lock held across the kill polls.
	for _, d := range live {
		if d.Alive() {
			e.sup.Terminate(d, false)
			killed++
		}
	}

	if killed > 0 {
		e.logger.Info("terminate_all", "killed", killed)
	}
}

// HasRunningTests reports whether any registered process is still live.
func (e *Executor) HasRunningTests() bool {
	return e.RunningTestCount() > 0
}

// RunningTestCount returns the number of live registered processes.
func (e *Executor) RunningTestCount() int {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()

	count := 0
	for _, d := range e.running {
		if d.Alive() {
			count++
		}
	}
	return count
}

// RunningTestNames returns the names of live tests, sorted for
// deterministic progress reporting.
func (e *Executor) RunningTestNames() []string {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()

	names := make([]string, 0, len(e.running))
	for _, d := range e.running {
		if d.Alive() {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Setters for between-run mutation. Not safe concurrently with a run.

// SetDefaultTimeout changes the engine default timeout.
func (e *Executor) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		e.cfg.DefaultTimeout = d
	}
}

// SetParallel toggles sharded execution.
func (e *Executor) SetParallel(enabled bool) {
	e.cfg.Parallel = enabled
}

// SetMaxWorkers changes the worker cap, clamped to at least 1.
func (e *Executor) SetMaxWorkers(n int) {
	if n < 1 {
		n = 1
	}
	e.cfg.MaxWorkers = n
}

// MaxWorkers returns the configured worker cap.
func (e *Executor) MaxWorkers() int {
	return e.cfg.MaxWorkers
}

// SetWorkDir changes the working directory for spawned tests.
func (e *Executor) SetWorkDir(dir string) {
	e.cfg.WorkDir = dir
	e.rebuildSupervisor()
}

// SetEnv adds or replaces one environment override.
func (e *Executor) SetEnv(key, value string) {
	if e.cfg.Env == nil {
		e.cfg.Env = make(map[string]string)
	}
	e.cfg.Env[key] = value
	e.rebuildSupervisor()
}

// SetCapture toggles output capture.
func (e *Executor) SetCapture(enabled bool) {
	e.cfg.Capture = enabled
	e.rebuildSupervisor()
}

// SetOnOutput sets the streaming-output callback.
func (e *Executor) SetOnOutput(fn func(name, chunk string)) {
	e.cfg.OnOutput = fn
	e.rebuildSupervisor()
}

// sweepRegistry removes registry entries whose liveness flag has gone false.
func (e *Executor) sweepRegistry() {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()

	for pid, d := range e.running {
		if !d.Alive() {
			delete(e.running, pid)
		}
	}
}

// emit forwards a completed result to the observer callback.
func (e *Executor) emit(res result.Result) {
	if e.cfg.OnResult != nil {
		e.cfg.OnResult(res)
	}
}

// cancelledResult is the record used for tests skipped by shutdown.
func cancelledResult(name string) result.Result {
	return result.Result{
		Name:    name,
		Status:  result.SystemError,
		Message: "Execution cancelled",
	}
}
