// procfs reads the slice of procfs that the status panel needs: the state
// and resident memory of a live child, out of /proc/<pid>/stat.
// https://www.kernel.org/doc/html/latest/filesystems/proc.html#id10
package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is where procfs lives on a regular system.
const DefaultRoot = "/proc"

// Stat is a snapshot of one process's stat file, reduced to the fields the
// supervisor displays.
type Stat struct {
	PID  int
	Comm string
	// State is the kernel's one-letter process state (R, S, D, Z, T).
	State byte
	// RSS is the resident set size in bytes.
	RSS int64
}

// ReadStat parses <root>/<pid>/stat. The comm field is enclosed in
// parentheses and may itself contain spaces or parentheses, so the parse
// anchors on the last closing parenthesis rather than splitting the whole
// line.
func ReadStat(root string, pid int) (Stat, error) {
	raw, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return Stat{}, fmt.Errorf("reading stat for pid %d: %w", pid, err)
	}
	return parseStat(string(raw))
}

func parseStat(line string) (Stat, error) {
	lparen := strings.IndexByte(line, '(')
	rparen := strings.LastIndexByte(line, ')')
	if lparen < 0 || rparen < 0 || rparen < lparen {
		return Stat{}, fmt.Errorf("malformed stat line: no comm field")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(line[:lparen]))
	if err != nil {
		return Stat{}, fmt.Errorf("malformed stat line: bad pid: %w", err)
	}

	// fields after the comm, 0-indexed: 0 is state, 21 is rss in pages
	rest := strings.Fields(line[rparen+1:])
	if len(rest) < 22 {
		return Stat{}, fmt.Errorf("malformed stat line: %d fields after comm", len(rest))
	}
	pages, err := strconv.ParseInt(rest[21], 10, 64)
	if err != nil {
		return Stat{}, fmt.Errorf("malformed stat line: bad rss: %w", err)
	}

	return Stat{
		PID:   pid,
		Comm:  line[lparen+1 : rparen],
		State: rest[0][0],
		RSS:   pages * int64(os.Getpagesize()),
	}, nil
}
