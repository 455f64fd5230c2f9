// Package cli provides terminal output formatting for pgvolve: color
// detection, styled labels, and table rendering for the status views.
package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var colorsEnabled = detectColors()

// detectColors reports whether stdout is an interactive terminal that
// should receive styled output. NO_COLOR and TERM=dumb win over TTY
// detection (https://no-color.org/).
func detectColors() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// EnableColors reports whether styled output is active.
func EnableColors() bool {
	return colorsEnabled
}

// SetColors overrides color detection. Used by the --no-color flag and tests.
func SetColors(on bool) {
	colorsEnabled = on
}

// ANSI 256 colors for broad terminal compatibility.
var (
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleCode    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func render(style lipgloss.Style, s string) string {
	if !colorsEnabled {
		return s
	}
	return style.Render(s)
}

// Error returns text styled as an error label.
func Error(s string) string { return render(styleError, s) }

// Warning returns text styled as a warning label.
func Warning(s string) string { return render(styleWarning, s) }

// Success returns text styled as a success message.
func Success(s string) string { return render(styleSuccess, s) }

// Info returns text styled as informational text.
func Info(s string) string { return render(styleInfo, s) }

// Code returns text styled as an error code (e.g. E3001).
func Code(s string) string { return render(styleCode, s) }

// Header returns text styled as a table header.
func Header(s string) string { return render(styleHeader, s) }

// Dim returns text styled as muted.
func Dim(s string) string { return render(styleDim, s) }
