// Package report renders comparison progress and results for a terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"changemap/internal/pipeline"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle    = lipgloss.NewStyle().Bold(true)
	changeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("202")).Bold(true)
	durationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Spinner animates a status line on w until Stop is called.
type Spinner struct {
	done chan struct{}
	wg   sync.WaitGroup
	w    io.Writer
}

func StartSpinner(w io.Writer, label string) *Spinner {
	sp := &Spinner{done: make(chan struct{}), w: w}
	start := time.Now()

	sp.wg.Add(1)
	go func() {
		defer sp.wg.Done()
		s := spinner.New()
		s.Spinner = spinner.Dot
		s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-sp.done:
				return
			case <-ticker.C:
				s, _ = s.Update(spinner.TickMsg{})
				fmt.Fprintf(w, "\r%s %s (%.1fs)", s.View(), label, time.Since(start).Seconds())
			}
		}
	}()
	return sp
}

// Stop ends the animation and replaces the status line with final.
func (sp *Spinner) Stop(final string) {
	close(sp.done)
	sp.wg.Wait()
	fmt.Fprintf(sp.w, "\r\033[K%s\n", final)
}

// Summary renders the result of one comparison and the files written for it.
func Summary(res *pipeline.Result, outputs []string) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", label)), value)
	}

	b.WriteString(headerStyle.Render("Change summary") + "\n")
	if res.Empty {
		b.WriteString(warnStyle.Render("  image smaller than one tile, nothing compared") + "\n")
	}

	s := res.Summary
	row("grid", valueStyle.Render(res.Grid.String()))
	row("changed tiles", valueStyle.Render(fmt.Sprintf("%d / %d", s.ChangedTiles, s.Tiles)))
	row("changed pixels", valueStyle.Render(fmt.Sprintf("%d", s.ChangedPixels)))
	row("after filtering", changeStyle.Render(fmt.Sprintf("%d (%.2f%%)", s.RetainedPixels, 100*s.ChangedFraction())))
	row("difference", valueStyle.Render(fmt.Sprintf("mean %.4f  p95 %.4f  max %.4f",
		s.MeanDifference, s.P95Difference, s.MaxDifference)))

	if len(res.Timings) > 0 {
		b.WriteString(headerStyle.Render("Timings") + "\n")
		for _, stage := range stageOrder(res) {
			row(stage, durationStyle.Render(res.Timings[stage].Round(time.Microsecond).String()))
		}
	}

	if len(outputs) > 0 {
		b.WriteString(headerStyle.Render("Written") + "\n")
		for _, path := range outputs {
			b.WriteString("  " + path + "\n")
		}
	}
	return b.String()
}

// stageOrder lists stages in execution order, then any timed stage the
// result does not order, alphabetically.
func stageOrder(res *pipeline.Result) []string {
	order := make([]string, 0, len(res.Timings))
	seen := make(map[string]bool)
	for _, stage := range res.Stages {
		if _, ok := res.Timings[stage]; ok && !seen[stage] {
			order = append(order, stage)
			seen[stage] = true
		}
	}

	var rest []string
	for stage := range res.Timings {
		if !seen[stage] {
			rest = append(rest, stage)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}
