package supervisor

import (
	"bytes"
	"os"
	"os/exec"
	"sync/atomic"
	"time"
)

// Descriptor tracks one live child process from spawn until its terminal
// classification. Mutated only by the owning supervisor call path.
type Descriptor struct {
	// Name is the logical test name.
	Name string

	// Path is the executable that was spawned.
	Path string

	// timing
	startTime time.Time
	timeout   time.Duration

	// Pipe read ends, present only when output capture is enabled.
	// Closed (and nilled) once the result has been produced.
	stdoutRead *os.File
	stderrRead *os.File

	// Raw fds for the read ends, cached at spawn time. os.File.Fd()
	// flips the fd back to blocking mode, so the drain must only ever
	// use these cached values (-1 when capture is off or pipes closed).
	stdoutFd int
	stderrFd int

	// Accumulated output between drains.
	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer

	// alive is true from spawn until termination is observed.
	alive atomic.Bool

	// reaped is set by the reaper goroutine once cmd.Wait has returned.
	// After that point the pid may be recycled, so liveness probes must
	// check this before trusting kill(pid, 0).
	reaped atomic.Bool

	cmd *exec.Cmd
	pid int

	// waitCh receives the cmd.Wait error exactly once (buffered so the
	// reaper goroutine never blocks, even on the timeout path).
	waitCh chan error
}

// PID returns the child process ID.
func (d *Descriptor) PID() int {
	return d.pid
}

// Alive reports whether the engine still considers the process live.
func (d *Descriptor) Alive() bool {
	return d.alive.Load()
}

// Started returns the spawn timestamp.
func (d *Descriptor) Started() time.Time {
	return d.startTime
}

// Timeout returns the timeout resolved for this process at spawn time.
func (d *Descriptor) Timeout() time.Duration {
	return d.timeout
}

// closePipes closes both read ends and clears the handles.
// Safe to call on every return path; nil handles are skipped.
func (d *Descriptor) closePipes() {
	if d.stdoutRead != nil {
		d.stdoutRead.Close()
		d.stdoutRead = nil
		d.stdoutFd = -1
	}
	if d.stderrRead != nil {
		d.stderrRead.Close()
		d.stderrRead = nil
		d.stderrFd = -1
	}
}
