package program

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	sig "github.com/wardend/warden/signal"
)

func killPID(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// tickUntil drives the program's tick loop until cond holds or the deadline
// passes, mirroring the supervisor's cadence.
func tickUntil(t *testing.T, p *Program, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		p.Tick()
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", deadline)
}

func TestIsOwnFD(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "/proc/self/fd/0", want: true},
		{path: "/proc/self/fd/1", want: true},
		{path: "/proc/self/fd", want: true},
		{path: fmt.Sprintf("/proc/%d/fd/1", os.Getpid()), want: true},
		{path: fmt.Sprintf("/proc/%d/fd/2", os.Getpid()), want: true},
		{path: "/bin/sh", want: false},
		{path: "/proc/selfish/fd/1", want: false},
	}
	for _, tt := range tests {
		got, err := isOwnFD(tt.path)
		if err != nil {
			t.Fatalf("isOwnFD(%q) returned error: %s", tt.path, err)
		}
		if got != tt.want {
			t.Fatalf("isOwnFD(%q) = %t, expected %t", tt.path, got, tt.want)
		}
	}

	relative := filepath.Join(t.TempDir(), "out.log")
	if got, err := isOwnFD(relative); err != nil || got {
		t.Fatalf("isOwnFD(%q) = %t, %v; expected false, nil", relative, got, err)
	}
}

func TestSpawnRejectsOwnFD(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "guarded"
	spec.Command = "/bin/true"
	spec.Stdout = "/proc/self/fd/1"
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	if len(p.Children) != 0 {
		t.Fatalf("child was inserted despite the fd-loop guard: %d children", len(p.Children))
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("WARDEN_TEST_PRESENT", "old")

	env, err := parseEnv([]string{"WARDEN_TEST_PRESENT=new", "WARDEN_TEST_EXTRA=1", "EMPTY="})
	if err != nil {
		t.Fatalf("parseEnv returned error: %s", err)
	}
	if !slices.Contains(env, "WARDEN_TEST_PRESENT=new") {
		t.Fatal("override entry missing from merged environment")
	}
	if slices.Contains(env, "WARDEN_TEST_PRESENT=old") {
		t.Fatal("overridden entry still present in merged environment")
	}
	if !slices.Contains(env, "WARDEN_TEST_EXTRA=1") || !slices.Contains(env, "EMPTY=") {
		t.Fatal("added entries missing from merged environment")
	}

	if _, err := parseEnv([]string{"NO_SEPARATOR"}); err == nil {
		t.Fatal("parseEnv accepted an entry without '='")
	}
}

func TestStartSpawnsProcessesChildren(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "sleepers"
	spec.Command = "/bin/sleep"
	spec.Args = []string{"30"}
	spec.Processes = 3
	p := New(spec, zap.NewNop())
	defer p.Kill()

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	if len(p.Children) != 3 {
		t.Fatalf("started %d children, expected 3", len(p.Children))
	}
	for _, c := range p.Children {
		if c.Status.Kind != Starting {
			t.Fatalf("fresh child in %v, expected Starting", c.Status.Kind)
		}
		if c.Restarts != 0 {
			t.Fatalf("fresh child has %d restarts", c.Restarts)
		}
		if c.PID() == 0 {
			t.Fatal("fresh child has no pid")
		}
		if c.ID == "" {
			t.Fatal("fresh child has no id")
		}
	}

	if err := p.Start(); err != ErrAlreadyRunning {
		t.Fatalf("second Start returned %v, expected ErrAlreadyRunning", err)
	}
}

func TestStartZeroProcesses(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "empty"
	spec.Command = "/bin/sleep"
	spec.Processes = 0
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	if len(p.Children) != 0 {
		t.Fatalf("%d children spawned for processes = 0", len(p.Children))
	}
	if !p.AllInactive() {
		t.Fatal("program with no children is not quiescent")
	}
	p.Stop()
	p.Tick()
}

func TestRunToCompletion(t *testing.T) {
	// a short self-exiting program moves Starting -> Running -> Finished
	spec := DefaultSpec()
	spec.Name = "oneshot"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", "exit 0"}
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Finished })
	if c.Status.Code != 0 {
		t.Fatalf("exit code %d, expected 0", c.Status.Code)
	}
	if c.Restarts != 0 {
		t.Fatalf("never-policy child restarted %d times", c.Restarts)
	}

	// policy never: a second of extra ticks must not re-spawn it
	end := time.Now().Add(1300 * time.Millisecond)
	for time.Now().Before(end) {
		p.Tick()
		time.Sleep(10 * time.Millisecond)
	}
	if c.Status.Kind != Finished || c.Restarts != 0 {
		t.Fatalf("child restarted under policy never: %v, %d restarts", c.Status.Kind, c.Restarts)
	}
}

func TestMinRuntimePromotion(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "promoted"
	spec.Command = "/bin/sleep"
	spec.Args = []string{"30"}
	p := New(spec, zap.NewNop())
	defer p.Kill()

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	spawned := c.Status.Since

	// min_runtime is zero, so the first tick promotes
	tickUntil(t, p, time.Second, func() bool { return c.Status.Kind == Running })
	if !c.Status.Since.Equal(spawned) {
		t.Fatal("promotion did not carry the Starting instant forward")
	}
}

func TestRestartOnUnexpectedExitBounded(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "flaky"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", "exit 1"}
	spec.RestartPolicy = UnexpectedExit
	spec.MaxRestarts = 2
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]

	tickUntil(t, p, 10*time.Second, func() bool {
		return c.Restarts == 2 && c.Status.Kind == Finished && time.Since(c.Status.Since) > 1500*time.Millisecond
	})
	// cap reached: one more cooldown's worth of ticks must not restart
	if c.Restarts != 2 {
		t.Fatalf("child restarted %d times, expected exactly 2", c.Restarts)
	}
	if c.Status.Code != 1 {
		t.Fatalf("final exit code %d, expected 1", c.Status.Code)
	}
}

func TestNoRestartWhenMaxRestartsZero(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "capped"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", "exit 7"}
	spec.RestartPolicy = UnexpectedExit
	spec.MaxRestarts = 0
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Finished })

	end := time.Now().Add(1300 * time.Millisecond)
	for time.Now().Before(end) {
		p.Tick()
		time.Sleep(10 * time.Millisecond)
	}
	if c.Restarts != 0 || c.Status.Kind != Finished {
		t.Fatalf("child with max_restarts = 0 restarted: %v, %d restarts", c.Status.Kind, c.Restarts)
	}
}

func TestUnboundedRestarts(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "unbounded"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", "exit 1"}
	spec.RestartPolicy = UnexpectedExit
	spec.MaxRestarts = -1
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	// well past the default cap of 3
	tickUntil(t, p, 15*time.Second, func() bool { return c.Restarts >= 4 })
}

func TestValidExitCodeSuppressesRestart(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "expected"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", "exit 3"}
	spec.ValidExitCodes = []int{3}
	spec.RestartPolicy = UnexpectedExit
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Finished })

	end := time.Now().Add(1300 * time.Millisecond)
	for time.Now().Before(end) {
		p.Tick()
		time.Sleep(10 * time.Millisecond)
	}
	if c.Restarts != 0 {
		t.Fatalf("child with a valid exit code restarted %d times", c.Restarts)
	}
}

func TestGracefulStop(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "polite"
	spec.Command = "/bin/sleep"
	spec.Args = []string{"30"}
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, time.Second, func() bool { return c.Status.Kind == Running })

	p.Stop()
	if c.Status.Kind != Terminating {
		t.Fatalf("status after Stop is %v, expected Terminating", c.Status.Kind)
	}
	// sleep dies to SIGTERM, the stop signal: classified Stopped, not
	// Terminated
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Stopped })
}

func TestStopTrappingChildClassifiedStopped(t *testing.T) {
	// a child that traps the stop signal and exits with a code is still a
	// deliberate stop, not a crash to restart
	spec := DefaultSpec()
	spec.Name = "trapper"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", `trap "exit 0" TERM; sleep 30 & wait`}
	spec.RestartPolicy = Always
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, time.Second, func() bool { return c.Status.Kind == Running })
	time.Sleep(200 * time.Millisecond)

	p.Stop()
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Stopped })

	end := time.Now().Add(1300 * time.Millisecond)
	for time.Now().Before(end) {
		p.Tick()
		time.Sleep(10 * time.Millisecond)
	}
	if c.Status.Kind != Stopped || c.Restarts != 0 {
		t.Fatalf("deliberately stopped child was restarted: %v, %d restarts", c.Status.Kind, c.Restarts)
	}
}

func TestGracefulTimeoutEscalatesToKill(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "stubborn"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", `trap "" TERM; sleep 30`}
	spec.GracefulTimeout = Seconds(time.Second)
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	// give the shell a moment to install its trap
	tickUntil(t, p, time.Second, func() bool { return c.Status.Kind == Running })
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	p.Stop()
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Stopped })
	if elapsed := time.Since(start); elapsed < spec.GracefulTimeout.Duration() {
		t.Fatalf("force-kill after %v, before the graceful timeout", elapsed)
	}
}

func TestSignalDeathClassifiedTerminated(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "victim"
	spec.Command = "/bin/sleep"
	spec.Args = []string{"30"}
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, time.Second, func() bool { return c.Status.Kind == Running })

	// an outside SIGKILL was not asked for: Terminated, not Stopped
	if err := killPID(c.PID()); err != nil {
		t.Fatalf("killing test child: %s", err)
	}
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Terminated })
	if c.Status.Sig != sig.SIGKILL.Code() {
		t.Fatalf("terminating signal %d, expected SIGKILL", c.Status.Sig)
	}
}

func TestRestartCyclesChildren(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "cycled"
	spec.Command = "/bin/sleep"
	spec.Args = []string{"30"}
	spec.Processes = 2
	p := New(spec, zap.NewNop())
	defer p.Kill()

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	oldIDs := []string{p.Children[0].ID, p.Children[1].ID}

	p.Restart()
	tickUntil(t, p, 10*time.Second, func() bool {
		if len(p.Children) != 2 {
			return false
		}
		for _, c := range p.Children {
			if !c.Status.Alive() || slices.Contains(oldIDs, c.ID) {
				return false
			}
		}
		return true
	})
	for _, c := range p.Children {
		if c.Restarts != 0 {
			t.Fatalf("restarted program's fresh child carries %d restarts", c.Restarts)
		}
	}
}

func TestUpdateEqualSpecIsNoop(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "stable"
	spec.Command = "/bin/sleep"
	spec.Args = []string{"30"}
	p := New(spec, zap.NewNop())
	defer p.Kill()

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, time.Second, func() bool { return c.Status.Kind == Running })
	pid, id, status := c.PID(), c.ID, c.Status

	same := DefaultSpec()
	same.Name = "stable"
	same.Command = "/bin/sleep"
	same.Args = []string{"30"}
	p.Update(same)
	p.Tick()

	if len(p.Children) != 1 || p.Children[0] != c {
		t.Fatal("equal-spec update touched the child vector")
	}
	if c.PID() != pid || c.ID != id || c.Status != status {
		t.Fatal("equal-spec update mutated the child")
	}
}

func TestUpdateChangedSpecRestarts(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "updated"
	spec.Command = "/bin/sleep"
	spec.Args = []string{"30"}
	p := New(spec, zap.NewNop())
	defer p.Kill()

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	oldPID := p.Children[0].PID()

	changed := DefaultSpec()
	changed.Name = "updated"
	changed.Command = "/bin/sleep"
	changed.Args = []string{"60"}
	p.Update(changed)

	if !p.Spec.Equal(changed) {
		t.Fatal("update did not install the new spec")
	}
	tickUntil(t, p, 10*time.Second, func() bool {
		return len(p.Children) == 1 && p.Children[0].Status.Alive() && p.Children[0].PID() != oldPID
	})
	if got := p.Spec.Args; !slices.Equal(got, []string{"60"}) {
		t.Fatalf("respawned under args %v", got)
	}
}

func TestStdoutRedirection(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")

	spec := DefaultSpec()
	spec.Name = "writer"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", "echo hello"}
	spec.Stdout = out
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Finished })

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading redirected stdout: %s", err)
	}
	if strings.TrimSpace(string(data)) != "hello" {
		t.Fatalf("redirected stdout contains %q", data)
	}
}

func TestStdoutTruncate(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	if err := os.WriteFile(out, []byte("previous contents\n"), 0644); err != nil {
		t.Fatalf("seeding output file: %s", err)
	}

	spec := DefaultSpec()
	spec.Name = "truncator"
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", "echo fresh"}
	spec.Stdout = out
	spec.StdoutTruncate = true
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	c := p.Children[0]
	tickUntil(t, p, 5*time.Second, func() bool { return c.Status.Kind == Finished })

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading redirected stdout: %s", err)
	}
	if strings.Contains(string(data), "previous") {
		t.Fatalf("file was not truncated: %q", data)
	}
}

func TestSpawnErrorLeavesProgramDegraded(t *testing.T) {
	spec := DefaultSpec()
	spec.Name = "missing"
	spec.Command = "/does/not/exist"
	spec.Processes = 2
	p := New(spec, zap.NewNop())

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %s", err)
	}
	if len(p.Children) != 0 {
		t.Fatalf("%d children inserted for an unspawnable command", len(p.Children))
	}
	// a later start retries from scratch
	if err := p.Start(); err != nil {
		t.Fatalf("retry Start returned error: %s", err)
	}
}
