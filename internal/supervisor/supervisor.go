// Package supervisor owns the lifecycle of a single test child process:
// spawn, monitor with timeout enforcement, non-blocking output capture,
// and graceful-then-forceful termination.
//
// The wait loop is a deliberate poll, not a blocking wait. It must
// interleave three independent concerns on every tick: timeout checking,
// draining the output pipes before their buffers fill and deadlock the
// child, and reaping the process. Collapsing it into a single blocking
// wait-for-exit reintroduces the pipe-buffer deadlock this design avoids.
package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-test-runner/internal/result"
)

const (
	// defaultPollInterval is the wait-loop tick.
	defaultPollInterval = 10 * time.Millisecond

	// gracefulWait is how long a process gets to honor SIGTERM.
	gracefulWait = 500 * time.Millisecond

	// forcefulWait is how long we poll for disappearance after SIGKILL.
	forcefulWait = 1 * time.Second

	// termPollInterval is the liveness poll during termination.
	termPollInterval = 10 * time.Millisecond

	// drainChunkSize is the scratch buffer for one non-blocking pipe read.
	drainChunkSize = 4096
)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStart is called when a test process starts.
	OnStart func(name string, pid int)

	// OnTermination is called when the supervisor signals a process,
	// with phase "graceful" or "forceful".
	OnTermination func(name string, phase string)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// WorkDir is the working directory for spawned processes ("" = inherit).
	WorkDir string

	// Env is overlaid on the parent environment; overrides win,
	// new keys are appended.
	Env map[string]string

	// Capture enables stdout/stderr pipe capture.
	Capture bool

	// OnOutput receives newly drained output as it arrives, combined
	// into a single chunk per call. Optional.
	OnOutput func(name, chunk string)

	// PollInterval overrides the wait-loop tick (0 = default 10ms).
	PollInterval time.Duration

	Logger    *slog.Logger
	Callbacks Callbacks
}

// Supervisor spawns and monitors test child processes. One Supervisor is
// safe for use by concurrent workers: all per-process state lives in the
// Descriptor, and no locks are held during the hot polling loop.
type Supervisor struct {
	workDir      string
	env          map[string]string
	capture      bool
	onOutput     func(name, chunk string)
	pollInterval time.Duration
	logger       *slog.Logger
	callbacks    Callbacks
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		workDir:      cfg.WorkDir,
		env:          cfg.Env,
		capture:      cfg.Capture,
		onOutput:     cfg.OnOutput,
		pollInterval: poll,
		logger:       logger,
		callbacks:    cfg.Callbacks,
	}
}

// Spawn starts the target executable and returns a live Descriptor.
// The caller is expected to have validated existence and the executable
// bit up front; Spawn errors are engine-level (pipe or process creation).
//
// Both pipes are created before the child so neither end is ever orphaned.
// The parent keeps only the read ends, marked non-blocking for the drain.
func (s *Supervisor) Spawn(path, name string, timeout time.Duration) (*Descriptor, error) {
	d := &Descriptor{
		Name:     name,
		Path:     path,
		timeout:  timeout,
		stdoutFd: -1,
		stderrFd: -1,
	}

	cmd := exec.Command(path)
	cmd.Dir = s.workDir
	cmd.Env = buildEnv(os.Environ(), s.env)

	// Own process group so termination can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	var stdoutW, stderrW *os.File
	if s.capture {
		var err error
		d.stdoutRead, stdoutW, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		d.stderrRead, stderrW, err = os.Pipe()
		if err != nil {
			d.stdoutRead.Close()
			stdoutW.Close()
			d.stdoutRead = nil
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}

		// The child writes straight into the pipe write ends; no copier
		// goroutines between the process and the capture buffers.
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW
	}

	d.startTime = time.Now()
	if err := cmd.Start(); err != nil {
		if s.capture {
			stdoutW.Close()
			stderrW.Close()
			d.closePipes()
		}
		s.logger.Error("spawn_failed",
			"test", name,
			"path", path,
			"error", err,
		)
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	// Parent only reads. Close the write ends now so EOF behavior is
	// correct when the child exits, and make the read ends non-blocking
	// for the poll-loop drain. These are the last Fd() calls on either
	// pipe: Fd() reverts the fd to blocking mode, so the drain works
	// from the cached raw fds from here on.
	if s.capture {
		stdoutW.Close()
		stderrW.Close()
		d.stdoutFd = int(d.stdoutRead.Fd())
		d.stderrFd = int(d.stderrRead.Fd())
		unix.SetNonblock(d.stdoutFd, true)
		unix.SetNonblock(d.stderrFd, true)
	}

	d.cmd = cmd
	d.pid = cmd.Process.Pid
	d.alive.Store(true)
	d.waitCh = make(chan error, 1)

	go func() {
		err := cmd.Wait()
		d.reaped.Store(true)
		d.waitCh <- err
	}()

	s.logger.Debug("test_started",
		"test", name,
		"pid", d.pid,
		"timeout", timeout.String(),
	)

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(name, d.pid)
	}

	return d, nil
}

// Wait monitors the process until it exits, crashes, times out, or the
// reap fails, and returns the classified result. It always returns within
// timeout plus the termination grace windows, never indefinitely.
func (s *Supervisor) Wait(d *Descriptor) result.Result {
	res := result.Result{Name: d.Name}

loop:
	for {
		// 1. Timeout check.
		if time.Since(d.startTime) >= d.timeout {
			res.TimedOut = true
			res.Status = result.Timeout
			res.Message = fmt.Sprintf("Test exceeded timeout of %dms", d.timeout.Milliseconds())
			s.logger.Warn("test_timeout",
				"test", d.Name,
				"pid", d.pid,
				"timeout", d.timeout.String(),
			)
			s.Terminate(d, true)
			break loop
		}

		// 2. Drain pipes before their buffers fill.
		s.drain(d)

		// 3. Non-blocking reap.
		select {
		case waitErr := <-d.waitCh:
			d.alive.Store(false)
			s.classifyExit(d, waitErr, &res)
			break loop
		default:
		}

		time.Sleep(s.pollInterval)
	}

	// Catch anything flushed between the last poll and process death.
	s.drain(d)
	res.Duration = time.Since(d.startTime)
	d.closePipes()

	res.Stdout = d.stdoutBuf.String()
	res.Stderr = d.stderrBuf.String()

	return res
}

// classifyExit maps a cmd.Wait error onto the result taxonomy.
func (s *Supervisor) classifyExit(d *Descriptor, waitErr error, res *result.Result) {
	if waitErr == nil {
		res.Status = result.Success
		res.ExitCode = 0
		s.logger.Debug("test_exited", "test", d.Name, "pid", d.pid, "exit_code", 0)
		return
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			sig := int(status.Signal())
			res.Status = result.Crash
			res.Signal = sig
			res.Message = "Test crashed with signal " + result.SignalLabel(sig)
			s.logger.Warn("test_crashed", "test", d.Name, "pid", d.pid, "signal", sig)
			return
		}
		res.Status = result.Failure
		res.ExitCode = exitErr.ExitCode()
		res.Message = fmt.Sprintf("Test failed with exit code %d", res.ExitCode)
		s.logger.Debug("test_exited", "test", d.Name, "pid", d.pid, "exit_code", res.ExitCode)
		return
	}

	// Wait failed for a reason other than process exit.
	res.Status = result.SystemError
	res.Message = fmt.Sprintf("Error waiting for process: %v", waitErr)
	s.logger.Error("wait_failed", "test", d.Name, "pid", d.pid, "error", waitErr)
}

// Terminate ends the process, gracefully first when requested. Returns
// whether termination was confirmed. No-op (and true) when the process is
// already gone. Idempotent: concurrent calls are both best-effort kill
// requests with no ordering assumption between them.
func (s *Supervisor) Terminate(d *Descriptor, graceful bool) bool {
	if !d.alive.Load() {
		return true
	}
	// Already reaped: the pid may belong to an unrelated process now,
	// so never signal it.
	if d.reaped.Load() {
		d.alive.Store(false)
		return true
	}

	if graceful {
		s.signalGroup(d.pid, syscall.SIGTERM)
		if s.callbacks.OnTermination != nil {
			s.callbacks.OnTermination(d.Name, "graceful")
		}
		if waitGone(d, gracefulWait) {
			d.alive.Store(false)
			return true
		}
		s.logger.Warn("terminate_escalated",
			"test", d.Name,
			"pid", d.pid,
			"grace", gracefulWait.String(),
		)
	}

	if !d.reaped.Load() {
		s.signalGroup(d.pid, syscall.SIGKILL)
		if s.callbacks.OnTermination != nil {
			s.callbacks.OnTermination(d.Name, "forceful")
		}
	}
	if waitGone(d, forcefulWait) {
		d.alive.Store(false)
		return true
	}

	s.logger.Error("terminate_unconfirmed", "test", d.Name, "pid", d.pid)
	return false
}

// signalGroup signals the process group, falling back to the process
// itself if the group lookup fails.
func (s *Supervisor) signalGroup(pid int, sig syscall.Signal) {
	if pgid, err := syscall.Getpgid(pid); err == nil {
		syscall.Kill(-pgid, sig)
	} else {
		syscall.Kill(pid, sig)
	}
}

// waitGone polls for process disappearance up to the limit. The reaped
// flag is authoritative: once cmd.Wait has returned, kill(pid, 0) may
// observe an unrelated process that recycled the pid. Signal 0 probes
// existence without delivering anything.
func waitGone(d *Descriptor, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if d.reaped.Load() || syscall.Kill(d.pid, 0) != nil {
			return true
		}
		time.Sleep(termPollInterval)
	}
	return d.reaped.Load() || syscall.Kill(d.pid, 0) != nil
}

// drain performs a non-blocking read of both pipes into the accumulation
// buffers and forwards newly drained bytes to the output callback as a
// single combined chunk.
func (s *Supervisor) drain(d *Descriptor) {
	if !s.capture {
		return
	}

	out := drainPipe(d.stdoutFd, &d.stdoutBuf)
	errOut := drainPipe(d.stderrFd, &d.stderrBuf)

	if s.onOutput == nil {
		return
	}

	chunk := out
	if errOut != "" {
		if chunk != "" {
			chunk += "\n"
		}
		chunk += errOut
	}
	if chunk != "" {
		s.onOutput(d.Name, chunk)
	}
}

// drainPipe reads everything currently buffered in the pipe without
// blocking. Returns the newly read bytes as a string. The fd must be
// the cached non-blocking fd from spawn, never a fresh os.File.Fd().
func drainPipe(fd int, buf *bytes.Buffer) string {
	if fd < 0 {
		return ""
	}

	var got []byte
	scratch := make([]byte, drainChunkSize)
	for {
		n, err := unix.Read(fd, scratch)
		if n > 0 {
			got = append(got, scratch[:n]...)
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// EAGAIN: nothing more buffered right now.
			break
		}
		if n == 0 {
			// EOF: write end closed and pipe empty.
			break
		}
	}

	if len(got) == 0 {
		return ""
	}
	buf.Write(got)
	return string(got)
}

// buildEnv overlays overrides onto the base environment. Overrides win;
// keys not present in the base are appended in sorted order.
func buildEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))

	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if ok {
			if v, hit := overrides[key]; hit {
				env = append(env, key+"="+v)
				seen[key] = true
				continue
			}
		}
		env = append(env, kv)
	}

	extra := make([]string, 0, len(overrides))
	for k, v := range overrides {
		if !seen[k] {
			extra = append(extra, k+"="+v)
		}
	}
	sort.Strings(extra)

	return append(env, extra...)
}
