package tui

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/wardend/warden/logging"
)

// Kind enumerates the control-surface verbs.
type Kind int

const (
	Quit Kind = iota
	Start
	Stop
	Restart
	Reload
	LogLevel
)

// Command is one parsed control-surface line. Arg carries the optional
// program name or reload path; Level is set for LogLevel commands.
type Command struct {
	Kind  Kind
	Arg   string
	Level zapcore.Level
}

// Help is printed on startup and after a parse error.
const Help = "quit (2x to force) | start <name?> | stop <name?> | restart <name?> | reload <path?> | loglevel <level>"

var verbs = []string{"quit", "start", "stop", "restart", "reload", "loglevel"}

// ParseCommand parses one input line. Verbs are case-insensitive and may be
// abbreviated to any unambiguous prefix: "star" resolves to start, while
// "s" matches start and stop both and is rejected. Each verb takes at most
// one argument.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	if len(fields) > 2 {
		return Command{}, fmt.Errorf("too many arguments")
	}
	// only the verb is case-insensitive: arguments may be paths
	verb := strings.ToLower(fields[0])
	arg := ""
	if len(fields) == 2 {
		arg = fields[1]
	}

	var matches []string
	for _, v := range verbs {
		if strings.HasPrefix(v, verb) {
			matches = append(matches, v)
		}
	}
	switch len(matches) {
	case 0:
		return Command{}, fmt.Errorf("unknown command %q", verb)
	case 1:
	default:
		return Command{}, fmt.Errorf("ambiguous command %q: matches %s", verb, strings.Join(matches, ", "))
	}

	switch matches[0] {
	case "quit":
		return Command{Kind: Quit}, nil
	case "start":
		return Command{Kind: Start, Arg: arg}, nil
	case "stop":
		return Command{Kind: Stop, Arg: arg}, nil
	case "restart":
		return Command{Kind: Restart, Arg: arg}, nil
	case "reload":
		return Command{Kind: Reload, Arg: arg}, nil
	case "loglevel":
		if arg == "" {
			return Command{}, fmt.Errorf("loglevel needs a level argument")
		}
		level, err := logging.ParseLevel(strings.ToLower(arg))
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: LogLevel, Arg: arg, Level: level}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", verb)
}
