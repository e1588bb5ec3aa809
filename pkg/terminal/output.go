// Package terminal prints styled CLI output: status lines, job summaries and
// dependency waves.
package terminal

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/expectedparrot/edsl-sub003/pkg/results"
)

// Writer provides styled terminal output.
type Writer struct {
	out io.Writer
	mu  sync.Mutex

	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
}

// New creates a Writer on stdout.
func New() *Writer {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput creates a Writer on out.
func NewWithOutput(out io.Writer) *Writer {
	return &Writer{
		out: out,

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),
		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),
		infoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		headerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"}).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}).
			Width(12),
	}
}

// Println writes text with a newline.
func (w *Writer) Println(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Error prints an error message in red.
func (w *Writer) Error(format string, args ...any) {
	w.line(w.errorStyle, "error: "+fmt.Sprintf(format, args...))
}

// Warn prints a warning message in yellow.
func (w *Writer) Warn(format string, args ...any) {
	w.line(w.warnStyle, "warning: "+fmt.Sprintf(format, args...))
}

// Success prints a success message in green.
func (w *Writer) Success(format string, args ...any) {
	w.line(w.successStyle, "✓ "+fmt.Sprintf(format, args...))
}

// Info prints an info message in blue.
func (w *Writer) Info(format string, args ...any) {
	w.line(w.infoStyle, fmt.Sprintf(format, args...))
}

// Dim prints secondary text.
func (w *Writer) Dim(format string, args ...any) {
	w.line(w.dimStyle, fmt.Sprintf(format, args...))
}

// Header prints a section header.
func (w *Writer) Header(title string) {
	w.line(w.headerStyle, title)
}

func (w *Writer) line(style lipgloss.Style, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, style.Render(msg))
}

// Summary prints the outcome of a job: counts per terminal status, the
// failed interviews and where results were written.
func (w *Writer) Summary(set *results.Set, output string) {
	counts := set.Summary()

	w.Header("Job " + set.JobID)
	w.mu.Lock()
	w.field("interviews", fmt.Sprintf("%d", set.Len()))
	w.field("completed", w.successStyle.Render(fmt.Sprintf("%d", counts[results.StatusCompleted])))
	w.field("stopped", w.warnStyle.Render(fmt.Sprintf("%d", counts[results.StatusStopped])))
	w.field("failed", w.failStyle(counts[results.StatusFailed]).Render(fmt.Sprintf("%d", counts[results.StatusFailed])))
	w.field("duration", set.Duration().Round(time.Millisecond).String())
	if output != "" {
		w.field("output", output)
	}
	w.mu.Unlock()

	if set.Cancelled {
		w.Warn("job cancelled; unstarted interviews are recorded as stopped")
	}
	for _, rec := range set.Failed() {
		q, _ := rec[results.KeyFailedQuestion].(string)
		msg, _ := rec[results.KeyError].(string)
		w.Error("interview %d failed at %s: %s", rec.Index(), q, msg)
	}
}

func (w *Writer) field(label, value string) {
	fmt.Fprintf(w.out, "%s %s\n", w.labelStyle.Render(label), value)
}

func (w *Writer) failStyle(n int) lipgloss.Style {
	if n > 0 {
		return w.errorStyle
	}
	return w.dimStyle
}

// Waves prints questions grouped by the wave in which they can be asked.
func (w *Writer) Waves(waves [][]string) {
	w.Header(fmt.Sprintf("%d waves", len(waves)))
	for i, wave := range waves {
		names := append([]string(nil), wave...)
		sort.Strings(names)
		w.Println("%s %s", w.labelStyle.Render(fmt.Sprintf("wave %d", i)), strings.Join(names, ", "))
	}
}
