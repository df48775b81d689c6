package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Progress is an io.Writer that counts bytes passing through it and, when
// attached to a terminal, redraws a single status line at most every
// Interval. Wrap the download body with io.TeeReader(body, progress).
type Progress struct {
	Label    string
	Total    int64 // 0 when the server did not send Content-Length.
	Out      io.Writer
	Interval time.Duration

	mu      sync.Mutex
	written int64
	start   time.Time
	last    time.Time
	drawn   bool
}

// NewProgress returns a Progress drawing to out, or a silent counter when
// out is nil (non-TTY output).
func NewProgress(label string, total int64, out io.Writer) *Progress {
	return &Progress{Label: label, Total: total, Out: out, Interval: 200 * time.Millisecond}
}

// Write implements io.Writer.
func (p *Progress) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if p.start.IsZero() {
		p.start = now
	}
	p.written += int64(len(b))
	if p.Out != nil && now.Sub(p.last) >= p.Interval {
		p.last = now
		p.draw(now)
	}
	return len(b), nil
}

// Written returns the byte count seen so far.
func (p *Progress) Written() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Done draws the final state and terminates the status line.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Out == nil {
		return
	}
	p.draw(time.Now())
	if p.drawn {
		fmt.Fprintln(p.Out)
	}
}

func (p *Progress) draw(now time.Time) {
	p.drawn = true
	fmt.Fprint(p.Out, "\r"+p.line(now)+"\033[K")
}

func (p *Progress) line(now time.Time) string {
	var sb strings.Builder
	sb.WriteString("  ")
	sb.WriteString(p.Label)
	sb.WriteString("  ")
	sb.WriteString(FormatBytes(p.written))
	if p.Total > 0 {
		pct := float64(p.written) / float64(p.Total) * 100
		if pct > 100 {
			pct = 100
		}
		fmt.Fprintf(&sb, " / %s  %3.0f%%", FormatBytes(p.Total), pct)
	}
	if elapsed := now.Sub(p.start).Seconds(); elapsed > 0 {
		sb.WriteString("  ")
		sb.WriteString(FormatRate(float64(p.written) / elapsed))
	}
	return sb.String()
}
