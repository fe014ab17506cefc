package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressReporter reports how many of a known number of items a
// long-running command has handled.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
	Error(err error)
}

// LineProgress rewrites a single status line:
//
//	Drained 120/500 transactions (24.0%) 310 txn/s
type LineProgress struct {
	mu      sync.Mutex
	w       io.Writer
	verb    string
	noun    string
	total   int64
	current int64
	started time.Time
	now     func() time.Time
}

// NewProgressReporter creates a reporter that writes to w, or os.Stdout
// when w is nil. verb and noun label the line, e.g. "Drained" and
// "transactions".
func NewProgressReporter(w io.Writer, verb, noun string) *LineProgress {
	if w == nil {
		w = os.Stdout
	}
	return &LineProgress{w: w, verb: verb, noun: noun, now: time.Now}
}

// Start resets the counter and sets the total.
func (p *LineProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.started = p.now()
	p.render()
}

// Update sets the number of handled items, capped at the total.
func (p *LineProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = min(current, p.total)
	p.render()
}

// Finish renders the final line and ends it. The count is left as is, so
// a partial run is reported as partial.
func (p *LineProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	fmt.Fprintln(p.w)
}

// Error ends the status line with err.
func (p *LineProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "\n✗ Error: %v\n", err)
}

func (p *LineProgress) render() {
	if p.total <= 0 {
		return
	}

	percent := float64(p.current) / float64(p.total) * 100
	line := fmt.Sprintf("\r%s %d/%d %s (%.1f%%)", p.verb, p.current, p.total, p.noun, percent)
	if elapsed := p.now().Sub(p.started).Seconds(); elapsed > 0 && p.current > 0 {
		line += fmt.Sprintf(" %.0f txn/s", float64(p.current)/elapsed)
	}
	fmt.Fprint(p.w, line)
}
