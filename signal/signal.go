// signal is warden's vocabulary of POSIX signals. It covers the classic
// range 1 through 31 and provides the conversions needed at the two places
// signals show up: configuration files, where a signal is written by name,
// and the OS boundary, where it is an integer code.
package signal

import (
	"fmt"
	"strings"
)

// Signal identifies one of the 31 classic POSIX signals by its numeric code.
type Signal int

const (
	SIGHUP    Signal = 1
	SIGINT    Signal = 2
	SIGQUIT   Signal = 3
	SIGILL    Signal = 4
	SIGTRAP   Signal = 5
	SIGABRT   Signal = 6
	SIGBUS    Signal = 7
	SIGFPE    Signal = 8
	SIGKILL   Signal = 9
	SIGUSR1   Signal = 10
	SIGSEGV   Signal = 11
	SIGUSR2   Signal = 12
	SIGPIPE   Signal = 13
	SIGALRM   Signal = 14
	SIGTERM   Signal = 15
	SIGSTKFLT Signal = 16
	SIGCHLD   Signal = 17
	SIGCONT   Signal = 18
	SIGSTOP   Signal = 19
	SIGTSTP   Signal = 20
	SIGTTIN   Signal = 21
	SIGTTOU   Signal = 22
	SIGURG    Signal = 23
	SIGXCPU   Signal = 24
	SIGXFSZ   Signal = 25
	SIGVTALRM Signal = 26
	SIGPROF   Signal = 27
	SIGWINCH  Signal = 28
	SIGIO     Signal = 29
	SIGPWR    Signal = 30
	SIGSYS    Signal = 31
)

// Default is the signal used for graceful shutdown when a program does not
// configure one.
const Default = SIGTERM

// names is indexed by signal code. Index 0 is unused.
var names = [32]string{
	1:  "SIGHUP",
	2:  "SIGINT",
	3:  "SIGQUIT",
	4:  "SIGILL",
	5:  "SIGTRAP",
	6:  "SIGABRT",
	7:  "SIGBUS",
	8:  "SIGFPE",
	9:  "SIGKILL",
	10: "SIGUSR1",
	11: "SIGSEGV",
	12: "SIGUSR2",
	13: "SIGPIPE",
	14: "SIGALRM",
	15: "SIGTERM",
	16: "SIGSTKFLT",
	17: "SIGCHLD",
	18: "SIGCONT",
	19: "SIGSTOP",
	20: "SIGTSTP",
	21: "SIGTTIN",
	22: "SIGTTOU",
	23: "SIGURG",
	24: "SIGXCPU",
	25: "SIGXFSZ",
	26: "SIGVTALRM",
	27: "SIGPROF",
	28: "SIGWINCH",
	29: "SIGIO",
	30: "SIGPWR",
	31: "SIGSYS",
}

// FromCode returns the Signal for an integer code in the range 1 through 31.
func FromCode(code int) (Signal, error) {
	if code < 1 || code > 31 {
		return 0, fmt.Errorf("signal code %d is out of range [1, 31]", code)
	}
	return Signal(code), nil
}

// Parse returns the Signal with the given canonical name, such as "SIGTERM".
// Matching is case-insensitive.
func Parse(name string) (Signal, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for code, n := range names {
		if code != 0 && n == upper {
			return Signal(code), nil
		}
	}
	return 0, fmt.Errorf("unknown signal name %q", name)
}

// Code returns the numeric code of the signal.
func (s Signal) Code() int {
	return int(s)
}

// Valid reports whether the signal is within the supported range.
func (s Signal) Valid() bool {
	return s >= 1 && s <= 31
}

// Name returns the canonical upper-case name, or "UNKNOWN" for codes outside
// the supported range.
func (s Signal) Name() string {
	if !s.Valid() {
		return "UNKNOWN"
	}
	return names[s]
}

// String renders the signal as "NAME (code)", e.g. "SIGTERM (15)".
func (s Signal) String() string {
	return fmt.Sprintf("%s (%d)", s.Name(), s.Code())
}

// UnmarshalText decodes a signal from its configuration-file form, the
// canonical name.
func (s *Signal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
