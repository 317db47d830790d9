// Package ui renders CLI output: status glyphs, the stage board, and
// notification lines.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// ApplyColorProfile configures lipgloss for the current terminal.
// NO_COLOR forces plain output; otherwise termenv's detection is
// trusted.
func ApplyColorProfile() {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

// Width returns the terminal width, or a fallback when stdout is not
// a terminal.
func Width() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 100
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

// RenderAccent styles s as a highlight.
func RenderAccent(s string) string {
	return accentStyle.Render(s)
}

// RenderPass styles s as a success marker.
func RenderPass(s string) string {
	return passStyle.Render(s)
}

// RenderWarn styles s as a warning marker.
func RenderWarn(s string) string {
	return warnStyle.Render(s)
}

// RenderFail styles s as a failure marker.
func RenderFail(s string) string {
	return failStyle.Render(s)
}

// RenderMuted styles s as secondary detail.
func RenderMuted(s string) string {
	return mutedStyle.Render(s)
}

// stageStyle maps a pipeline stage color (ANSI 256 code) to a style.
// Empty color falls back to the accent color.
func stageStyle(color string) lipgloss.Style {
	if color == "" {
		return accentStyle
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
}

// truncate shortens s to at most width runes, appending an ellipsis
// when it was cut. Styling is applied after truncation, so widths are
// plain rune counts.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}
