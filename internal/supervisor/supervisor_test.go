package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-test-runner/internal/result"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates an executable shell script in dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing script %s: %v", name, err)
	}
	return path
}

func newCaptureSupervisor() *Supervisor {
	return New(Config{
		Capture: true,
		Logger:  newTestLogger(),
	})
}

func TestSpawnWaitSuccess(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "ok.sh", `echo "hello from test"
exit 0`)

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "ok", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	res := sup.Wait(d)
	if res.Status != result.Success {
		t.Fatalf("Status = %s, want success (message: %q)", res.Status, res.Message)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if !strings.Contains(res.Stdout, "hello from test") {
		t.Errorf("Stdout = %q, want it to contain greeting", res.Stdout)
	}
	if res.Message != "" {
		t.Errorf("Message = %q, want empty for success", res.Message)
	}
	if d.Alive() {
		t.Error("descriptor still alive after Wait")
	}
}

func TestExitCodeMapping(t *testing.T) {
	dir := t.TempDir()
	sup := newCaptureSupervisor()

	tests := []struct {
		name string
		code int
		want result.Status
	}{
		{"exit_0", 0, result.Success},
		{"exit_1", 1, result.Failure},
		{"exit_2", 2, result.Failure},
		{"exit_42", 42, result.Failure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, dir, tt.name+".sh", fmt.Sprintf("exit %d", tt.code))

			d, err := sup.Spawn(path, tt.name, 5*time.Second)
			if err != nil {
				t.Fatalf("Spawn() error: %v", err)
			}
			res := sup.Wait(d)

			if res.Status != tt.want {
				t.Errorf("Status = %s, want %s", res.Status, tt.want)
			}
			if res.ExitCode != tt.code {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.code)
			}
			if tt.code != 0 {
				wantMsg := fmt.Sprintf("Test failed with exit code %d", tt.code)
				if res.Message != wantMsg {
					t.Errorf("Message = %q, want %q", res.Message, wantMsg)
				}
			}
		})
	}
}

func TestTimeoutEnforcement(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "slow.sh", "sleep 10")

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "slow", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	start := time.Now()
	res := sup.Wait(d)
	elapsed := time.Since(start)

	if res.Status != result.Timeout {
		t.Fatalf("Status = %s, want timeout", res.Status)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if !strings.Contains(res.Message, "timeout of 200ms") {
		t.Errorf("Message = %q, want it to name the timeout", res.Message)
	}
	// Must return well before the 10s sleep finishes:
	// timeout + grace + kill window + slack.
	if elapsed > 3*time.Second {
		t.Errorf("Wait took %v, want < 3s", elapsed)
	}
}

// A child that goes quiet mid-run must not stall the wait loop: every
// tick drains an empty pipe, and a blocking read there would keep the
// timeout check from ever running.
func TestTimeoutEnforcedForSilentChild(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "silent.sh", `echo "starting"
sleep 10`)

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "silent", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	done := make(chan result.Result, 1)
	go func() { done <- sup.Wait(d) }()

	select {
	case res := <-done:
		if res.Status != result.Timeout {
			t.Fatalf("Status = %s, want timeout", res.Status)
		}
		if !strings.Contains(res.Stdout, "starting") {
			t.Errorf("Stdout = %q, missing output from before the hang", res.Stdout)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return: drain blocked on an empty pipe")
	}
}

// drainPipe must only ever see the cached non-blocking fd; repeated
// reads of an empty pipe return immediately with EAGAIN.
func TestDrainPipeEmptyNonBlocking(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error: %v", err)
	}
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		t.Fatalf("SetNonblock error: %v", err)
	}

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			drainPipe(fd, &buf)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drainPipe blocked on an empty pipe")
	}
	if buf.Len() != 0 {
		t.Errorf("drained %d bytes from an empty pipe", buf.Len())
	}
}

func TestTimeoutIgnoresGracefulShutdown(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "stubborn.sh", `trap '' TERM
while :; do sleep 0.1; done`)

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "stubborn", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	start := time.Now()
	res := sup.Wait(d)
	elapsed := time.Since(start)

	if res.Status != result.Timeout {
		t.Fatalf("Status = %s, want timeout", res.Status)
	}
	if elapsed > 4*time.Second {
		t.Errorf("Wait took %v, want SIGKILL escalation to finish well under 4s", elapsed)
	}
	if d.Alive() {
		t.Error("descriptor still alive after escalated termination")
	}
}

func TestSignalClassification(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "crash.sh", "kill -11 $$")

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "crash", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	res := sup.Wait(d)
	if res.Status != result.Crash {
		t.Fatalf("Status = %s, want crash (message: %q)", res.Status, res.Message)
	}
	if res.Signal != 11 {
		t.Errorf("Signal = %d, want 11", res.Signal)
	}
	if !strings.Contains(res.Message, "SIGSEGV (Segmentation fault)") {
		t.Errorf("Message = %q, want the signal named", res.Message)
	}
	if res.TimedOut {
		t.Error("TimedOut = true for a crash")
	}
}

func TestStderrCapture(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "noisy.sh", `echo "to stdout"
echo "to stderr" >&2
exit 3`)

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "noisy", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	res := sup.Wait(d)
	if res.Status != result.Failure {
		t.Fatalf("Status = %s, want failure", res.Status)
	}
	if !strings.Contains(res.Stdout, "to stdout") {
		t.Errorf("Stdout = %q, missing stdout line", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "to stderr") {
		t.Errorf("Stderr = %q, missing stderr line", res.Stderr)
	}
}

func TestCaptureDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "quiet.sh", `echo "discarded"`)

	sup := New(Config{
		Capture: false,
		Logger:  newTestLogger(),
	})
	d, err := sup.Spawn(path, "quiet", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	res := sup.Wait(d)
	if res.Status != result.Success {
		t.Fatalf("Status = %s, want success", res.Status)
	}
	if res.Stdout != "" || res.Stderr != "" {
		t.Errorf("captured output with capture disabled: stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

// A child writing more than the pipe buffer must not deadlock the wait
// loop, and nothing may be lost.
func TestLargeOutputDoesNotDeadlock(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "chatty.sh", `i=0
while [ $i -lt 5000 ]; do
  echo "line $i with some padding to fill the pipe buffer faster"
  i=$((i+1))
done`)

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "chatty", 30*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	res := sup.Wait(d)
	if res.Status != result.Success {
		t.Fatalf("Status = %s, want success (message: %q)", res.Status, res.Message)
	}
	if !strings.Contains(res.Stdout, "line 0 ") {
		t.Error("first line missing from captured stdout")
	}
	if !strings.Contains(res.Stdout, "line 4999 ") {
		t.Error("last line missing from captured stdout")
	}
}

func TestOutputStreaming(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "stream.sh", `echo "first chunk"
sleep 0.1
echo "second chunk"`)

	var mu sync.Mutex
	var streamed strings.Builder
	var names []string

	sup := New(Config{
		Capture: true,
		Logger:  newTestLogger(),
		OnOutput: func(name, chunk string) {
			mu.Lock()
			defer mu.Unlock()
			streamed.WriteString(chunk)
			names = append(names, name)
		},
	})

	d, err := sup.Spawn(path, "stream", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	res := sup.Wait(d)

	if res.Status != result.Success {
		t.Fatalf("Status = %s, want success", res.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(streamed.String(), "first chunk") ||
		!strings.Contains(streamed.String(), "second chunk") {
		t.Errorf("streamed output = %q, missing chunks", streamed.String())
	}
	for _, n := range names {
		if n != "stream" {
			t.Errorf("callback received test name %q, want %q", n, "stream")
		}
	}
}

func TestTerminateIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "short.sh", "exit 0")

	sup := newCaptureSupervisor()
	d, err := sup.Spawn(path, "short", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	sup.Wait(d)

	// Process already reaped: both calls are no-ops that report confirmed.
	if !sup.Terminate(d, true) {
		t.Error("Terminate(graceful) on dead process = false, want true")
	}
	if !sup.Terminate(d, false) {
		t.Error("Terminate(forceful) on dead process = false, want true")
	}
}

// Once the reaper has collected the child, the pid may belong to an
// unrelated process, so Terminate must confirm without signaling.
func TestTerminateAfterReapDoesNotSignal(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "quick.sh", "exit 0")

	var mu sync.Mutex
	var phases []string

	sup := New(Config{
		Capture: true,
		Logger:  newTestLogger(),
		Callbacks: Callbacks{
			OnTermination: func(name, phase string) {
				mu.Lock()
				phases = append(phases, phase)
				mu.Unlock()
			},
		},
	})

	d, err := sup.Spawn(path, "quick", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	sup.Wait(d)

	// Simulate an external terminate racing past the alive check.
	d.alive.Store(true)
	if !sup.Terminate(d, true) {
		t.Error("Terminate() after reap = false, want true")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(phases) != 0 {
		t.Errorf("termination signals sent after reap: %v", phases)
	}
}

func TestTerminationCallbackPhases(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "stubborn.sh", `trap '' TERM
while :; do sleep 0.1; done`)

	var mu sync.Mutex
	var phases []string

	sup := New(Config{
		Capture: true,
		Logger:  newTestLogger(),
		Callbacks: Callbacks{
			OnTermination: func(name, phase string) {
				mu.Lock()
				phases = append(phases, phase)
				mu.Unlock()
			},
		},
	})

	d, err := sup.Spawn(path, "stubborn", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	sup.Wait(d)

	mu.Lock()
	defer mu.Unlock()
	if len(phases) != 2 || phases[0] != "graceful" || phases[1] != "forceful" {
		t.Errorf("termination phases = %v, want [graceful forceful]", phases)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "env.sh", `echo "MARKER=$TEST_RUNNER_MARKER"
echo "HOME=$HOME"`)

	t.Setenv("TEST_RUNNER_MARKER", "from-parent")

	sup := New(Config{
		Capture: true,
		Logger:  newTestLogger(),
		Env: map[string]string{
			"TEST_RUNNER_MARKER": "from-override",
			"TEST_RUNNER_EXTRA":  "appended",
		},
	})

	d, err := sup.Spawn(path, "env", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	res := sup.Wait(d)

	if !strings.Contains(res.Stdout, "MARKER=from-override") {
		t.Errorf("override did not win: %q", res.Stdout)
	}
}

func TestWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	workDir := t.TempDir()
	path := writeScript(t, dir, "pwd.sh", "pwd")

	sup := New(Config{
		Capture: true,
		WorkDir: workDir,
		Logger:  newTestLogger(),
	})

	d, err := sup.Spawn(path, "pwd", 5*time.Second)
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	res := sup.Wait(d)

	// Resolve symlinks (macOS tempdirs live under /private).
	resolved, _ := filepath.EvalSymlinks(workDir)
	got := strings.TrimSpace(res.Stdout)
	if got != workDir && got != resolved {
		t.Errorf("child pwd = %q, want %q", got, workDir)
	}
}

func TestBuildEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides map[string]string
		want      []string
	}{
		{
			name: "no_overrides",
			base: []string{"A=1", "B=2"},
			want: []string{"A=1", "B=2"},
		},
		{
			name:      "override_wins",
			base:      []string{"A=1", "B=2"},
			overrides: map[string]string{"B": "changed"},
			want:      []string{"A=1", "B=changed"},
		},
		{
			name:      "new_keys_appended_sorted",
			base:      []string{"A=1"},
			overrides: map[string]string{"Z": "26", "M": "13"},
			want:      []string{"A=1", "M=13", "Z=26"},
		},
		{
			name:      "mixed",
			base:      []string{"A=1", "B=2"},
			overrides: map[string]string{"A": "changed", "C": "new"},
			want:      []string{"A=changed", "B=2", "C=new"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildEnv(tt.base, tt.overrides)
			if len(got) != len(tt.want) {
				t.Fatalf("buildEnv() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("buildEnv()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	sup := newCaptureSupervisor()

	// The coordinator validates paths before spawning; if Spawn is called
	// anyway, the Start error must surface without leaking a descriptor.
	d, err := sup.Spawn("/nonexistent/binary", "ghost", time.Second)
	if err == nil {
		t.Fatal("Spawn() of missing binary succeeded, want error")
	}
	if d != nil {
		t.Errorf("Spawn() returned descriptor %v on failure, want nil", d)
	}
}
