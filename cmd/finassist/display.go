package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/quantumflow/finassist/internal/agent"
)

// ColorCode represents ANSI color codes
type ColorCode string

const (
	ColorReset  ColorCode = "\033[0m"
	ColorRed    ColorCode = "\033[31m"
	ColorGreen  ColorCode = "\033[32m"
	ColorYellow ColorCode = "\033[33m"
	ColorCyan   ColorCode = "\033[36m"
	ColorGray   ColorCode = "\033[90m"
	ColorBold   ColorCode = "\033[1m"
)

// Colorize wraps text in color codes if colors are enabled
func Colorize(text string, color ColorCode, enabled bool) string {
	if !enabled {
		return text
	}
	return string(color) + text + string(ColorReset)
}

// isTerminal reports whether f is attached to a character device
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ProgressIndicator shows a spinner while a question is being answered
type ProgressIndicator struct {
	writer  io.Writer
	message string
	frames  []string
	current int
	stop    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
}

// NewProgressIndicator creates a new progress indicator
func NewProgressIndicator(writer io.Writer, message string) *ProgressIndicator {
	return &ProgressIndicator{
		writer:  writer,
		message: message,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start starts the animation
func (p *ProgressIndicator) Start() {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				fmt.Fprintf(p.writer, "\r%s %s", p.frames[p.current%len(p.frames)], p.message)
				p.current++
				p.mu.Unlock()
			case <-p.stop:
				fmt.Fprint(p.writer, "\r\033[K")
				return
			}
		}
	}()
}

// Stop stops the animation and clears the line
func (p *ProgressIndicator) Stop() {
	close(p.stop)
	<-p.done
}

// printBundle writes the answer, its sources and a metadata footer
func printBundle(w io.Writer, b *agent.Bundle, colors bool) {
	if b.Failed() {
		fmt.Fprintln(w, Colorize(b.Answer, ColorRed, colors))
	} else {
		fmt.Fprintln(w, b.Answer)
	}

	if len(b.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, Colorize("Sources:", ColorBold, colors))
		printSources(w, b.Sources)
	}

	footer := fmt.Sprintf("%s | %.2fs | %d round(s) | %d tool call(s) | %d chart(s)",
		b.Metadata.Model, b.Metadata.Duration.Seconds(), b.Metadata.Rounds,
		b.Metadata.ToolCalls, len(b.Metadata.Charts))
	if b.Metadata.ToolErrors > 0 {
		footer += fmt.Sprintf(" | %d tool error(s)", b.Metadata.ToolErrors)
	}
	if b.Metadata.BudgetExhausted {
		footer += " | step limit reached"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, Colorize(footer, ColorGray, colors))
}

func printSources(w io.Writer, sources []agent.SourceRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  SOURCE\tSNIPPET")
	for _, s := range sources {
		fmt.Fprintf(tw, "  %s\t%s\n", s.Source, s.Snippet)
	}
	tw.Flush()
}

// saveCharts writes each chart of the bundle as a PNG under dir and returns the paths
func saveCharts(b *agent.Bundle, dir string) ([]string, error) {
	if len(b.Metadata.Charts) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chart directory: %w", err)
	}

	prefix := b.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	paths := make([]string, 0, len(b.Metadata.Charts))
	for i, chart := range b.Metadata.Charts {
		name := fmt.Sprintf("%s_%d_customer_%d_%s.png", prefix, i+1, chart.CustomerID, strings.ToLower(string(chart.Metric)))
		path := filepath.Join(dir, name)
		if err := chart.Save(path); err != nil {
			return paths, fmt.Errorf("failed to save chart %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
