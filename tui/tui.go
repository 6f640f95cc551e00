// tui is warden's interactive control surface: a line-buffered command
// reader and a status panel redrawn as the supervised programs change.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wardend/warden/program"
)

// Tui reads commands from in and writes frames to out. A goroutine pumps
// input lines into a channel so the supervisor loop can poll with a bounded
// timeout and never block on a quiet terminal.
type Tui struct {
	lines     chan string
	out       io.Writer
	lastFrame string
	log       *zap.Logger
}

// New builds the control surface and starts its input pump. It prints the
// verb help line once so an interactive user knows what the surface speaks.
func New(in io.Reader, out io.Writer, logger *zap.Logger) *Tui {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tui{
		lines: make(chan string),
		out:   out,
		log:   logger,
	}
	fmt.Fprintln(out, Help)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			t.lines <- scanner.Text()
		}
		close(t.lines)
	}()
	return t
}

// Poll waits up to timeout for one command. It returns ok=false when no
// line arrived, when input is exhausted, or when the line did not parse; a
// parse failure is reported to the user together with the help line.
func (t *Tui) Poll(timeout time.Duration) (Command, bool) {
	select {
	case line, open := <-t.lines:
		if !open {
			return Command{}, false
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			t.log.Debug("rejected command line", zap.String("line", line), zap.Error(err))
			fmt.Fprintf(t.out, "%s\n%s\n", err, Help)
			return Command{}, false
		}
		return cmd, true
	case <-time.After(timeout):
		return Command{}, false
	}
}

// Draw renders the status panel. The frame is only written when some child
// changed status since the last one, so a quiescent supervisor stays
// silent.
func (t *Tui) Draw(programs []*program.Program) {
	frame, key := BuildStatus(programs)
	if key == t.lastFrame {
		return
	}
	t.lastFrame = key
	fmt.Fprint(t.out, frame)
}
