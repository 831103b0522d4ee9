package runner

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress tracks and renders provisioning status to an io.Writer (typically stderr).
// Output is suppressed in JSON mode to avoid corrupting machine-readable output.
type Progress struct {
	w          io.Writer
	suppressed bool
	total      int
	mu         sync.Mutex
	results    []containerStatus
}

type containerStatus struct {
	name   string
	reused bool
	failed bool
}

// NewProgress creates a new progress tracker writing to w.
// If suppressed is true, no output is produced (for --json mode).
func NewProgress(w io.Writer, suppressed bool, total int) *Progress {
	p := &Progress{
		w:          w,
		suppressed: suppressed,
		total:      total,
	}

	if !suppressed && total > 0 {
		fmt.Fprintf(w, "⏳ Starting %d container(s)...\n", total)
	}

	return p
}

// OnStart is called when a container begins provisioning.
func (p *Progress) OnStart(name string) {
	if p.suppressed {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "  ⏳ %s\n", name)
}

// OnComplete is called when a container is ready or has failed.
func (p *Progress) OnComplete(name string, reused bool, errMsg string, dur time.Duration) {
	if p.suppressed {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.results = append(p.results, containerStatus{name: name, reused: reused, failed: errMsg != ""})

	switch {
	case errMsg != "":
		fmt.Fprintf(p.w, "  ❌ %s  %s: %s\n", name, formatDuration(dur), errMsg)
	case reused:
		fmt.Fprintf(p.w, "  ♻️  %s  %s\n", name, formatDuration(dur))
	default:
		fmt.Fprintf(p.w, "  ✅ %s  %s\n", name, formatDuration(dur))
	}
}

// Finish prints a summary line after all containers complete.
func (p *Progress) Finish() {
	if p.suppressed {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ready, reused, failed := 0, 0, 0
	for _, r := range p.results {
		switch {
		case r.failed:
			failed++
		case r.reused:
			reused++
		default:
			ready++
		}
	}

	fmt.Fprintf(p.w, "\n")
	if failed == 0 {
		fmt.Fprintf(p.w, "✅ %d container(s) ready (%d reused)\n", ready+reused, reused)
	} else {
		fmt.Fprintf(p.w, "Results: %d ready, %d reused, %d failed\n", ready, reused, failed)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
