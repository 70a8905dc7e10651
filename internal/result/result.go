// Package result defines the outcome taxonomy for test executions.
//
// Every test run produces exactly one Result with exactly one Status. The
// engine never returns errors for test-level failures; the Status field is
// the only failure signal visible to callers.
package result

import "time"

// Status classifies the outcome of a single test execution.
type Status int

const (
	// Success means the test ran to completion and exited 0.
	Success Status = iota

	// Failure means the test ran to completion and exited non-zero.
	Failure

	// Timeout means the test exceeded its allotted time and was killed.
	Timeout

	// Crash means the test was terminated by a signal.
	Crash

	// BuildError means the test binary was missing or not executable.
	// Detected before spawning; no process is ever created.
	BuildError

	// SystemError means the engine itself failed: pipe or process creation
	// failed, or an unexpected error occurred while waiting.
	SystemError
)

// String returns the lower-case token for the status.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	case Crash:
		return "crash"
	case BuildError:
		return "build_error"
	case SystemError:
		return "system_error"
	default:
		return "unknown"
	}
}

// Result summarizes one completed (or aborted) test execution.
// Immutable once returned to the caller.
type Result struct {
	// Name is the logical test name from the descriptor.
	Name string `json:"name"`

	// Status is the single classified outcome.
	Status Status `json:"status"`

	// ExitCode is meaningful only for Success and Failure.
	ExitCode int `json:"exit_code"`

	// Signal is the terminating signal number, meaningful only for Crash.
	Signal int `json:"signal"`

	// Duration is wall-clock time from spawn to termination observed.
	Duration time.Duration `json:"duration"`

	// Stdout and Stderr hold captured output (empty if capture disabled).
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	// Message is a human-readable error, non-empty whenever Status != Success.
	Message string `json:"message"`

	// TimedOut is redundant with Status == Timeout, kept for quick filtering.
	TimedOut bool `json:"timed_out"`
}

// Passed reports whether the test succeeded.
func (r Result) Passed() bool {
	return r.Status == Success
}

// Failed reports whether the test ended in any non-success state.
func (r Result) Failed() bool {
	return r.Status != Success
}
