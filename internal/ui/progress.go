package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const barWidth = 30

// Progress tracks fetch outcomes for the CLI and renders a one-line bar.
type Progress struct {
	mu        sync.Mutex
	out       io.Writer
	enabled   bool
	total     int
	done      int
	failed    int
	cooling   int
	startTime time.Time
	lastLine  int
}

// NewProgress returns a tracker writing to out. Rendering is suppressed
// when enabled is false or out is not a terminal.
func NewProgress(out io.Writer, total int, enabled bool) *Progress {
	return &Progress{
		out:       out,
		enabled:   enabled && isTerminal(out),
		total:     total,
		startTime: time.Now(),
	}
}

// isTerminal checks if w is a character device
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// Record counts one finished URL.
func (p *Progress) Record(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if failed {
		p.failed++
	}
}

// SetCooling records how many hosts are currently in a 429 cooldown.
func (p *Progress) SetCooling(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooling = n
}

// Line returns the current progress line.
func (p *Progress) Line() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineLocked()
}

func (p *Progress) lineLocked() string {
	var b strings.Builder
	if p.total > 0 {
		filled := barWidth * p.done / p.total
		if filled > barWidth {
			filled = barWidth
		}
		fmt.Fprintf(&b, "[%s%s] %d/%d",
			strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), p.done, p.total)
	} else {
		fmt.Fprintf(&b, "%d fetched", p.done)
	}
	if p.failed > 0 {
		fmt.Fprintf(&b, " %d failed", p.failed)
	}
	if p.cooling > 0 {
		fmt.Fprintf(&b, " %d hosts cooling down", p.cooling)
	}
	if elapsed := time.Since(p.startTime).Seconds(); elapsed > 0 && p.done > 0 {
		fmt.Fprintf(&b, " %.1f/s", float64(p.done)/elapsed)
	}
	return b.String()
}

// Render redraws the line in place.
func (p *Progress) Render() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	line := p.lineLocked()
	pad := ""
	if n := p.lastLine - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(p.out, "\r"+line+pad)
	p.lastLine = len(line)
}

// Finish ends the progress line and returns the run summary.
func (p *Progress) Finish() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled && p.lastLine > 0 {
		fmt.Fprint(p.out, "\n")
	}
	elapsed := time.Since(p.startTime)
	return fmt.Sprintf("%d fetched in %v, %d failed",
		p.done, elapsed.Round(time.Millisecond), p.failed)
}
