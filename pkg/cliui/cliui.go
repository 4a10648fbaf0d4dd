// Package cliui provides reusable terminal UI helpers (spinners, step
// indicators, summary styles) for cumdach CLI commands.
package cliui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	StepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))

	// Summary styles shared by the store, get, list, and prune commands.
	HeaderStyle = lipgloss.NewStyle().Bold(true)
	KeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	NameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	HashStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	WarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Step runs fn while animating a spinner on w, then rewrites the line with
// a ✓ or ✗ mark and the elapsed time. One goroutine owns every write to w,
// so spinner frames and the final line never interleave.
func Step(w io.Writer, msg string, fn func() error) error {
	start := time.Now()
	result := make(chan error)
	printed := make(chan struct{})

	go func() {
		defer close(printed)

		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for frame := 0; ; frame++ {
			fmt.Fprintf(w, "\r  %s %s",
				spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]), msg)

			select {
			case err := <-result:
				elapsed := StepStyle.Render("(" + FormatDuration(time.Since(start)) + ")")
				fmt.Fprintf(w, "\r  %s %s %s\n", Mark(err), msg, elapsed)
				return
			case <-ticker.C:
			}
		}
	}()

	err := fn()
	result <- err
	<-printed

	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration renders d the way the CLI reports elapsed time: whole
// milliseconds under a second, tenths of a second above.
func FormatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
