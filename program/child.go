package program

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	sig "github.com/wardend/warden/signal"
)

// StatusKind enumerates the states of the child state machine.
type StatusKind int

const (
	// Stopped means deliberately not running: killed, or observed exiting
	// with the stop signal we sent.
	Stopped StatusKind = iota
	// Finished means the child exited by itself with an exit code.
	Finished
	// Terminated means the child was killed by a signal we did not send.
	Terminated
	// Terminating means the stop signal was sent and the child has until
	// the graceful timeout to obey.
	Terminating
	// Starting means spawned but not yet alive for min_runtime.
	Starting
	// Running means alive for at least min_runtime.
	Running
)

// Status is the tagged state of one child. Since records the instant the
// state was entered, so time-in-state is a subtraction at the observation
// site. Code is meaningful for Finished, Sig for Terminated.
type Status struct {
	Kind  StatusKind
	Since time.Time
	Code  int
	Sig   int
}

func starting() Status    { return Status{Kind: Starting, Since: time.Now()} }
func terminating() Status { return Status{Kind: Terminating, Since: time.Now()} }
func stopped() Status     { return Status{Kind: Stopped, Since: time.Now()} }

// running carries the Starting instant forward so time-in-state reads as
// total alive time.
func running(t0 time.Time) Status {
	return Status{Kind: Running, Since: t0}
}

func finished(code int) Status {
	return Status{Kind: Finished, Since: time.Now(), Code: code}
}

func terminated(signum int) Status {
	return Status{Kind: Terminated, Since: time.Now(), Sig: signum}
}

// Alive reports whether the child still has a live OS process behind it.
func (s Status) Alive() bool {
	switch s.Kind {
	case Starting, Running, Terminating:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s.Kind {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Terminating:
		return "Terminating"
	case Running:
		return "Running"
	case Finished:
		return fmt.Sprintf("Finished (code: %d)", s.Code)
	case Terminated:
		name, err := sig.FromCode(s.Sig)
		if err != nil {
			return fmt.Sprintf("Terminated (signal: Unknown (%d))", s.Sig)
		}
		return fmt.Sprintf("Terminated (signal: %s)", name)
	}
	return "Unknown"
}

// restartCooldown is the minimum spacing between two automatic re-spawns of
// the same child slot.
const restartCooldown = time.Second

// Child owns one OS worker process: its handle, its status, and how many
// times this slot has been automatically re-spawned.
type Child struct {
	// ID tags every log line about this slot and survives in-place
	// restarts.
	ID       string
	Status   Status
	Restarts int

	pid    int
	reaped bool
}

// PID returns the OS process id of the current (or last) process in this
// slot, or 0 if the slot never spawned.
func (c *Child) PID() int {
	return c.pid
}

// reap performs the non-blocking wait and classifies an observed exit.
// Errors are logged and leave the status untouched; the next tick retries.
func (c *Child) reap(p *Program) {
	if c.pid == 0 || c.reaped {
		return
	}
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		if errors.Is(err, unix.ECHILD) {
			// already collected elsewhere, nothing more to observe
			c.reaped = true
			return
		}
		p.log.Warn("could not get the status of the child process",
			zap.String("child", c.ID),
			zap.Int("pid", c.pid),
			zap.Error(err))
		return
	}
	if wpid == 0 {
		// still running
		return
	}
	c.reaped = true
	if !c.Status.Alive() {
		return
	}
	switch {
	case ws.Signaled():
		signum := int(ws.Signal())
		if c.Status.Kind == Terminating && signum == p.Spec.StopSignal.Code() {
			// we asked for it, it obeyed
			c.Status = stopped()
			p.log.Debug("child stopped gracefully",
				zap.String("child", c.ID),
				zap.Int("pid", c.pid),
				zap.String("name", p.Spec.Name),
				zap.String("signal", p.Spec.StopSignal.String()))
			return
		}
		c.Status = terminated(signum)
		p.log.Debug("child process terminated by signal",
			zap.String("child", c.ID),
			zap.Int("pid", c.pid),
			zap.String("name", p.Spec.Name),
			zap.String("signal", sig.Signal(signum).String()))
	case ws.Exited():
		if c.Status.Kind == Terminating {
			// it chose to exit on its own after the stop signal, still
			// a deliberate stop
			c.Status = stopped()
			p.log.Debug("child exited during graceful shutdown",
				zap.String("child", c.ID),
				zap.Int("pid", c.pid),
				zap.String("name", p.Spec.Name),
				zap.Int("exit_code", ws.ExitStatus()))
			return
		}
		c.Status = finished(ws.ExitStatus())
		p.log.Debug("child process finished",
			zap.String("child", c.ID),
			zap.Int("pid", c.pid),
			zap.String("name", p.Spec.Name),
			zap.Int("exit_code", ws.ExitStatus()))
	}
}

// wantsRestart applies the restart policy to an inactive status.
func (c *Child) wantsRestart(p *Program) bool {
	switch c.Status.Kind {
	case Finished:
		switch p.Spec.RestartPolicy {
		case Always:
			return true
		case UnexpectedExit:
			return !p.Spec.validExit(c.Status.Code)
		}
	case Terminated:
		switch p.Spec.RestartPolicy {
		case Always:
			return true
		case UnexpectedExit:
			return c.Status.Sig != p.Spec.StopSignal.Code()
		}
	}
	return false
}

// Tick advances the state machine one step: reap, promote, escalate, then
// decide on a restart. The owning Program is passed in explicitly; children
// hold no back-reference.
func (c *Child) Tick(p *Program) {
	c.reap(p)

	elapsed := time.Since(c.Status.Since)
	switch c.Status.Kind {
	case Starting:
		if elapsed > p.Spec.MinRuntime.Duration() {
			c.Status = running(c.Status.Since)
			p.log.Debug("child is now considered running",
				zap.String("child", c.ID),
				zap.Int("pid", c.pid),
				zap.String("name", p.Spec.Name))
		}
	case Terminating:
		if elapsed > p.Spec.GracefulTimeout.Duration() {
			p.log.Warn("graceful shutdown timeout, killing the child",
				zap.String("child", c.ID),
				zap.Int("pid", c.pid),
				zap.String("name", p.Spec.Name))
			c.Kill(p)
		}
	case Finished, Terminated:
		underCap := c.Restarts < p.Spec.MaxRestarts || p.Spec.MaxRestarts == -1
		if elapsed > restartCooldown && underCap && c.wantsRestart(p) {
			p.log.Debug("restarting child",
				zap.String("child", c.ID),
				zap.String("name", p.Spec.Name),
				zap.String("last_status", c.Status.String()),
				zap.Int("restarts", c.Restarts+1))
			c.Restarts++
			if err := p.respawn(c); err != nil {
				p.log.Error("re-spawning child",
					zap.String("child", c.ID),
					zap.String("name", p.Spec.Name),
					zap.Error(err))
			}
		}
	}
}

// Stop sends the given signal and marks the child Terminating. Delivery
// failures are logged; the state machine proceeds as if the signal landed,
// the next reap corrects any false positive. Stopping a non-alive child is
// a no-op.
func (c *Child) Stop(p *Program, s sig.Signal) {
	if !c.Status.Alive() {
		return
	}
	if err := unix.Kill(c.pid, unix.Signal(s.Code())); err != nil {
		p.log.Error("could not send the stop signal to the child",
			zap.String("child", c.ID),
			zap.Int("pid", c.pid),
			zap.String("signal", s.String()),
			zap.Error(err))
	}
	c.Status = terminating()
}

// Kill force-kills the child and marks it Stopped. Like Stop, failures are
// logged but do not hold the state machine back.
func (c *Child) Kill(p *Program) {
	if !c.Status.Alive() {
		return
	}
	if err := unix.Kill(c.pid, unix.SIGKILL); err != nil {
		p.log.Error("could not kill the child",
			zap.String("child", c.ID),
			zap.Int("pid", c.pid),
			zap.Error(err))
	}
	c.Status = stopped()
}
