package httpconnpool

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

func statusSymbol(s StreamStatus) string {
	switch s {
	case StatusOpen, StatusConnecting:
		return color.GreenString("●")
	case StatusActive:
		return color.YellowString("●")
	case StatusClosing, StatusPaused:
		return color.YellowString("◐")
	case StatusClosed:
		return color.RedString("●")
	default:
		return color.New().Sprint("●")
	}
}

// String renders one line of observability output for a Connection: status
// symbol, write/read counters with busy/lock indicators, host:port pair with
// local port, pipeline limit, excess-buffer size if non-zero, idle duration
// if over 5 seconds, and bytes waiting if any — the fields named in the
// component spec's observability requirement.
func (c *Connection) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s:%s (local:%s) kind=%s pipeline=%d w=%d r=%d",
		statusSymbol(c.stream.Status()), c.host, c.port, c.stream.LocalPort(), c.kind, c.pipelineLimit, c.writeCount, c.readCount)

	if c.writeBusy {
		b.WriteString(" [write-busy]")
	}
	if c.readOwner != nil {
		b.WriteString(" [read-locked]")
	}
	if n := len(c.excess); n > 0 {
		fmt.Fprintf(&b, " excess=%dB", n)
	}
	if idle := c.timestamp; !idle.IsZero() {
		if secs := time.Since(idle).Seconds(); secs > 5 {
			fmt.Fprintf(&b, " idle=%.0fs", secs)
		}
	}
	if waiting := c.bytesAvailableLocked(); waiting > 0 {
		fmt.Fprintf(&b, " waiting=%dB", waiting)
	}
	return b.String()
}

// ShowPool writes one line per pooled Connection to w, under the pool lock
// so the listing reflects a single consistent instant.
func (p *Pool) ShowPool(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(w, "pool: %d connection(s)\n", len(p.conns))
	for _, c := range p.conns {
		fmt.Fprintln(w, "  "+c.String())
	}
}
