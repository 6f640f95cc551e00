// program owns the supervision engine: the declarative Spec of one managed
// program, the vector of Child workers running under it, and the transitions
// driven by the periodic tick.
package program

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Start when some children are still alive.
var ErrAlreadyRunning = errors.New("some processes are still running")

// Program is a Spec plus its children and the transient flags the tick loop
// consumes.
type Program struct {
	Spec     Spec
	Children []*Child

	forceRestart bool
	allDownSeen  bool
	removed      bool

	log *zap.Logger
}

// New returns a Program for the given spec with no children. Nothing runs
// until Start is called.
func New(spec Spec, logger *zap.Logger) *Program {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Program{Spec: spec, log: logger}
}

// MarkRemoved flags the program as dropped from the configuration. It keeps
// ticking until its children are inactive, then gets pruned.
func (p *Program) MarkRemoved() {
	p.removed = true
}

// Removed reports whether the program was dropped from the configuration.
func (p *Program) Removed() bool {
	return p.removed
}

// AllInactive reports whether every child has left the alive states. A
// program with no children is trivially inactive.
func (p *Program) AllInactive() bool {
	for _, c := range p.Children {
		if c.Status.Alive() {
			return false
		}
	}
	return true
}

// isOwnFD reports whether path resolves to one of the supervisor's own stdio
// file descriptors. Redirecting a child there would feed its output back
// into our logger and grow without bound.
func isOwnFD(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	guarded := []string{"/proc/self/fd", fmt.Sprintf("/proc/%d/fd", os.Getpid())}

	candidates := []string{filepath.Clean(abs)}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		candidates = append(candidates, resolved)
	} else if target, err := os.Readlink(abs); err == nil {
		// a link into /proc/*/fd whose final target does not resolve
		// (pipes, sockets) still counts
		candidates = append(candidates, filepath.Clean(target))
	}

	for _, c := range candidates {
		for _, g := range guarded {
			if c == g || strings.HasPrefix(c, g+"/") {
				return true, nil
			}
		}
	}
	return false, nil
}

// openStdio opens one redirection target. An empty path means the null
// device, which exec gives us for free with a nil file.
func openStdio(path string, flag int, write bool) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	ours, err := isOwnFD(path)
	if err == nil && ours {
		return nil, fmt.Errorf("path %q points to our own stdio file descriptors", path)
	}
	mode := os.FileMode(0)
	if write {
		mode = 0644
	}
	f, err := os.OpenFile(path, flag, mode)
	if err != nil {
		return nil, fmt.Errorf("opening file %q: %w", path, err)
	}
	return f, nil
}

// parseEnv validates the KEY=VALUE entries and merges them over the
// supervisor's own environment, later entries overriding earlier ones.
func parseEnv(entries []string) ([]string, error) {
	env := os.Environ()
	for _, entry := range entries {
		key, _, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("invalid env entry %q: missing '='", entry)
		}
		replaced := false
		for i, existing := range env {
			if strings.HasPrefix(existing, key+"=") {
				env[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			env = append(env, entry)
		}
	}
	return env, nil
}

// spawn launches one OS process according to the spec: stdio redirections
// with the fd-loop guard, merged environment, working directory and umask
// bracketing. On success the process is left running and its pid returned.
func (p *Program) spawn() (pid int, err error) {
	outFlag := os.O_APPEND | os.O_CREATE | os.O_WRONLY
	if p.Spec.StdoutTruncate {
		outFlag = os.O_TRUNC | os.O_CREATE | os.O_WRONLY
	}
	errFlag := os.O_APPEND | os.O_CREATE | os.O_WRONLY
	if p.Spec.StderrTruncate {
		errFlag = os.O_TRUNC | os.O_CREATE | os.O_WRONLY
	}

	stdin, err := openStdio(p.Spec.Stdin, os.O_RDONLY, false)
	if err != nil {
		return 0, fmt.Errorf("setting up stdin: %w", err)
	}
	defer closeFile(stdin)
	stdout, err := openStdio(p.Spec.Stdout, outFlag, true)
	if err != nil {
		return 0, fmt.Errorf("setting up stdout: %w", err)
	}
	defer closeFile(stdout)
	stderr, err := openStdio(p.Spec.Stderr, errFlag, true)
	if err != nil {
		return 0, fmt.Errorf("setting up stderr: %w", err)
	}
	defer closeFile(stderr)

	env, err := parseEnv(p.Spec.Env)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(p.Spec.Command, p.Spec.Args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = env
	cmd.Dir = p.Spec.Cwd

	var previous int
	if p.Spec.Umask != nil {
		previous = unix.Umask(int(*p.Spec.Umask))
	}
	err = cmd.Start()
	if p.Spec.Umask != nil {
		unix.Umask(previous)
	}
	if err != nil {
		return 0, fmt.Errorf("spawning %q: %w", p.Spec.Command, err)
	}

	p.log.Debug("running",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("name", p.Spec.Name))
	return cmd.Process.Pid, nil
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// newChild spawns a fresh child slot in Starting state.
func (p *Program) newChild() (*Child, error) {
	pid, err := p.spawn()
	if err != nil {
		return nil, err
	}
	return &Child{
		ID:     uuid.NewString(),
		Status: starting(),
		pid:    pid,
	}, nil
}

// respawn replaces the OS process of an existing slot in place, keeping its
// ID and restart count.
func (p *Program) respawn(c *Child) error {
	pid, err := p.spawn()
	if err != nil {
		return err
	}
	c.pid = pid
	c.reaped = false
	c.Status = starting()
	return nil
}

// Start clears the inactive children of a previous run and spawns
// spec.processes fresh workers. It fails if any child is still alive. Spawn
// failures are logged and skipped; the program proceeds with fewer children.
func (p *Program) Start() error {
	if !p.AllInactive() {
		return ErrAlreadyRunning
	}
	p.Children = nil
	p.allDownSeen = false

	p.log.Info("starting program", zap.String("name", p.Spec.Name))
	p.log.Debug("program command line",
		zap.String("name", p.Spec.Name),
		zap.String("cmd", p.Spec.Command),
		zap.Strings("args", p.Spec.Args),
		zap.Strings("env", p.Spec.Env))

	started := 0
	for i := 0; i < int(p.Spec.Processes); i++ {
		child, err := p.newChild()
		if err != nil {
			p.log.Error("spawning child",
				zap.String("name", p.Spec.Name),
				zap.Error(err))
			continue
		}
		p.Children = append(p.Children, child)
		started++
	}
	p.log.Info("processes started",
		zap.String("name", p.Spec.Name),
		zap.Int("started", started),
		zap.Uint8("wanted", p.Spec.Processes))
	return nil
}

// Stop begins the graceful shutdown of every alive child.
func (p *Program) Stop() {
	for _, c := range p.Children {
		if !c.Status.Alive() {
			continue
		}
		p.log.Debug("stopping child",
			zap.String("child", c.ID),
			zap.Int("pid", c.pid),
			zap.String("name", p.Spec.Name),
			zap.String("signal", p.Spec.StopSignal.String()))
		c.Stop(p, p.Spec.StopSignal)
	}
}

// Restart marks the program for a stop-then-start cycle. The actual
// re-spawn happens on the first tick that observes every child inactive,
// which tolerates however long the graceful shutdown takes.
func (p *Program) Restart() {
	p.forceRestart = true
	p.Stop()
}

// Kill force-kills every alive child. Used by the supervisor on final
// shutdown.
func (p *Program) Kill() {
	for _, c := range p.Children {
		if !c.Status.Alive() {
			continue
		}
		p.log.Debug("killing child",
			zap.String("child", c.ID),
			zap.Int("pid", c.pid),
			zap.String("name", p.Spec.Name))
		c.Kill(p)
	}
}

// Tick reconciles the program: completes a pending restart once everything
// is down, advances every child's state machine, and logs the moment the
// last child goes inactive.
func (p *Program) Tick() {
	if p.forceRestart && p.AllInactive() {
		p.forceRestart = false
		p.Children = nil
		if err := p.Start(); err != nil {
			p.log.Error("restarting program",
				zap.String("name", p.Spec.Name),
				zap.Error(err))
		}
	}

	downBefore := p.AllInactive()
	for _, c := range p.Children {
		c.Tick(p)
	}
	if !downBefore && p.AllInactive() && !p.allDownSeen {
		p.allDownSeen = true
		p.log.Info("all processes finished",
			zap.String("name", p.Spec.Name),
			zap.Int("count", len(p.Children)))
	}
}

// Update applies a new spec. An equal spec is a no-op; otherwise the
// children are carried over as-is and the program is restarted, so restart
// counters and in-flight graceful shutdowns survive until the re-spawn
// naturally happens under the new parameters.
func (p *Program) Update(spec Spec) {
	// a reload that names this program again always keeps it
	p.removed = false
	if p.Spec.Equal(spec) {
		p.log.Debug("not updating: configuration did not change",
			zap.String("name", p.Spec.Name))
		return
	}
	p.log.Debug("updating configuration, restarting processes",
		zap.String("name", p.Spec.Name))
	p.Spec = spec
	p.Restart()
}
