package program

import (
	"fmt"
	"slices"
	"time"

	sig "github.com/wardend/warden/signal"
)

// RestartPolicy decides whether a child that left the running states gets
// re-spawned automatically.
type RestartPolicy int

const (
	// Never leaves a dead child dead.
	Never RestartPolicy = iota
	// Always re-spawns any child that exited, whatever the cause.
	Always
	// UnexpectedExit re-spawns only children that exited outside the
	// program's valid exit codes, or that were killed by a signal other
	// than the configured stop signal.
	UnexpectedExit
)

func (p RestartPolicy) String() string {
	switch p {
	case Never:
		return "never"
	case Always:
		return "always"
	case UnexpectedExit:
		return "unexpectedexit"
	}
	return "unknown"
}

// UnmarshalText decodes the configuration form of the policy.
func (p *RestartPolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "never":
		*p = Never
	case "always":
		*p = Always
	case "unexpectedexit":
		*p = UnexpectedExit
	default:
		return fmt.Errorf("unknown restart_policy %q, expected never, always or unexpectedexit", text)
	}
	return nil
}

// StartPolicy decides whether a program is started when the supervisor
// loads, or only on an explicit start command.
type StartPolicy int

const (
	Auto StartPolicy = iota
	Manual
)

func (p StartPolicy) String() string {
	switch p {
	case Auto:
		return "auto"
	case Manual:
		return "manual"
	}
	return "unknown"
}

// UnmarshalText decodes the configuration form of the policy.
func (p *StartPolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "auto":
		*p = Auto
	case "manual":
		*p = Manual
	default:
		return fmt.Errorf("unknown start_policy %q, expected auto or manual", text)
	}
	return nil
}

// Seconds is a duration written as a whole number of seconds in the
// configuration file.
type Seconds time.Duration

// UnmarshalTOML decodes a non-negative integer second count.
func (s *Seconds) UnmarshalTOML(v any) error {
	n, ok := v.(int64)
	if !ok {
		return fmt.Errorf("expected an integer number of seconds, got %T", v)
	}
	if n < 0 {
		return fmt.Errorf("duration must be non-negative, got %d", n)
	}
	*s = Seconds(time.Duration(n) * time.Second)
	return nil
}

// Duration returns the value as a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// Spec is the declarative configuration of one program: what to run, how
// many workers, and the policies that govern their lifecycle. Two Specs
// comparing Equal is what makes a reload keep a program running untouched.
type Spec struct {
	// Command is the path of the executable. It is the only required field.
	Command string `toml:"command"`
	// Name uniquely identifies the program within one configuration. The
	// loader generates one when it is missing or colliding.
	Name        string              `toml:"name"`
	StartPolicy StartPolicy         `toml:"start_policy"`
	Processes   uint8               `toml:"processes"`
	MinRuntime  Seconds             `toml:"min_runtime"`
	// ValidExitCodes lists the exit codes counting as a successful
	// termination. Empty means every exit is unexpected.
	ValidExitCodes []int         `toml:"valid_exit_codes"`
	RestartPolicy  RestartPolicy `toml:"restart_policy"`
	// MaxRestarts bounds automatic per-child restarts. -1 means unbounded.
	MaxRestarts     int               `toml:"max_restarts"`
	StopSignal      sig.Signal        `toml:"stop_signal"`
	GracefulTimeout Seconds           `toml:"graceful_timeout"`
	Stdin           string            `toml:"stdin"`
	Stdout          string            `toml:"stdout"`
	Stderr          string            `toml:"stderr"`
	StdoutTruncate  bool              `toml:"stdout_truncate"`
	StderrTruncate  bool              `toml:"stderr_truncate"`
	Args            []string          `toml:"args"`
	Env             []string          `toml:"env"`
	Cwd             string            `toml:"cwd"`
	Umask           *uint32           `toml:"umask"`
	// User is carried for the privilege-descalation collaborator and is
	// otherwise opaque to the supervisor.
	User string `toml:"user"`
}

// DefaultSpec returns a Spec carrying every default value. The loader
// decodes configuration entries on top of it, so absent keys keep their
// defaults while explicit zero values survive.
func DefaultSpec() Spec {
	return Spec{
		Processes:       1,
		MaxRestarts:     3,
		StopSignal:      sig.Default,
		GracefulTimeout: Seconds(10 * time.Second),
	}
}

// Equal reports structural equality over every declarative field. It is the
// basis of the reload diff: an equal Spec leaves the running program alone.
func (s Spec) Equal(other Spec) bool {
	return s.Command == other.Command &&
		s.Name == other.Name &&
		s.StartPolicy == other.StartPolicy &&
		s.Processes == other.Processes &&
		s.MinRuntime == other.MinRuntime &&
		slices.Equal(s.ValidExitCodes, other.ValidExitCodes) &&
		s.RestartPolicy == other.RestartPolicy &&
		s.MaxRestarts == other.MaxRestarts &&
		s.StopSignal == other.StopSignal &&
		s.GracefulTimeout == other.GracefulTimeout &&
		s.Stdin == other.Stdin &&
		s.Stdout == other.Stdout &&
		s.Stderr == other.Stderr &&
		s.StdoutTruncate == other.StdoutTruncate &&
		s.StderrTruncate == other.StderrTruncate &&
		slices.Equal(s.Args, other.Args) &&
		slices.Equal(s.Env, other.Env) &&
		s.Cwd == other.Cwd &&
		equalUmask(s.Umask, other.Umask) &&
		s.User == other.User
}

func equalUmask(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// validExit reports whether code is one of the spec's valid exit codes.
func (s Spec) validExit(code int) bool {
	return slices.Contains(s.ValidExitCodes, code)
}
