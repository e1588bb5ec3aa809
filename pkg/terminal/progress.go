package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/expectedparrot/edsl-sub003/pkg/results"
)

// Progress reports finished interviews as they arrive. It is safe for use
// from worker goroutines.
type Progress struct {
	out       io.Writer
	total     int
	done      int
	mu        sync.Mutex
	startTime time.Time
	style     lipgloss.Style
	failStyle lipgloss.Style
}

// NewProgress returns a progress reporter for total interviews.
func NewProgress(out io.Writer, total int) *Progress {
	return &Progress{
		out:       out,
		total:     total,
		startTime: time.Now(),
		style: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}),
	}
}

// Record prints one line for a finished interview.
func (p *Progress) Record(rec results.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++

	width := len(fmt.Sprint(p.total))
	counter := fmt.Sprintf("[%*d/%d]", width, p.done, p.total)
	style := p.style
	if rec.Status() == results.StatusFailed {
		style = p.failStyle
	}
	elapsed := time.Since(p.startTime).Round(100 * time.Millisecond)
	fmt.Fprintf(p.out, "%s interview %d %s (%s)\n", style.Render(counter), rec.Index(), rec.Status(), elapsed)
}

// Done returns how many interviews have been reported.
func (p *Progress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
