package tui

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/wardend/warden/procfs"
	"github.com/wardend/warden/program"
)

// statusGroup aggregates the children of one program sharing the same
// displayed status.
type statusGroup struct {
	display string
	count   int
	since   time.Time
	rss     int64
	alive   bool
}

// BuildStatus renders the status panel for the given programs: one row per
// distinct child status per program, showing how many of the program's
// children share it, how long the most recent one has been in it, and the
// resident memory of the alive ones. The second return value is a diff key
// covering only the columns that represent state changes, so callers can
// skip redrawing frames that differ merely by elapsed time.
func BuildStatus(programs []*program.Program) (frame, key string) {
	var buf, keys bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Name", "Status", "Processes", "Since", "Mem"})

	for _, p := range programs {
		if len(p.Children) == 0 {
			table.Append([]string{p.Spec.Name, "Stopped", "0/0", "", ""})
			fmt.Fprintf(&keys, "%s|Stopped|0/0\n", p.Spec.Name)
			continue
		}
		for _, g := range groupChildren(p) {
			since := time.Since(g.since).Round(time.Second)
			mem := ""
			if g.alive && g.rss > 0 {
				mem = formatBytes(g.rss)
			}
			table.Append([]string{
				p.Spec.Name,
				g.display,
				fmt.Sprintf("%d/%d", g.count, len(p.Children)),
				since.String(),
				mem,
			})
			fmt.Fprintf(&keys, "%s|%s|%d/%d\n", p.Spec.Name, g.display, g.count, len(p.Children))
		}
	}

	table.Render()
	return buf.String(), keys.String()
}

// groupChildren buckets a program's children by displayed status, keeping
// the most recent entry instant per bucket. Order follows first appearance
// in the child vector, so the panel is stable across frames.
func groupChildren(p *program.Program) []*statusGroup {
	var groups []*statusGroup
	byDisplay := make(map[string]*statusGroup)
	for _, c := range p.Children {
		display := c.Status.String()
		g, ok := byDisplay[display]
		if !ok {
			g = &statusGroup{display: display, since: c.Status.Since, alive: c.Status.Alive()}
			byDisplay[display] = g
			groups = append(groups, g)
		}
		g.count++
		if c.Status.Since.After(g.since) {
			g.since = c.Status.Since
		}
		if c.Status.Alive() && c.PID() != 0 {
			if st, err := procfs.ReadStat(procfs.DefaultRoot, c.PID()); err == nil {
				g.rss += st.RSS
			}
		}
	}
	return groups
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/float64(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}
