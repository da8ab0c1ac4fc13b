package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for status lines.
type Theme struct {
	Primary lipgloss.Color
	Warn    lipgloss.Color
	Error   lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Warn:    lipgloss.Color("#ffb86c"),
	Error:   lipgloss.Color("#ff5555"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Tag     lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Error   lipgloss.Style
	Help    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Tag:     lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Success: lipgloss.NewStyle().Foreground(t.Primary),
		Warn:    lipgloss.NewStyle().Bold(true).Foreground(t.Warn),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(t.Error),
		Help:    lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Printer writes tagged status lines such as "[Info]: Finish loading data!".
type Printer struct {
	W      io.Writer
	Styles Styles
}

// NewPrinter returns a Printer on w with the default theme.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{W: w, Styles: NewStyles(DefaultTheme)}
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintln(p.W, p.Styles.Tag.Render("[Info]:")+" "+fmt.Sprintf(format, args...))
}

// Success prints a line with a checkmark.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.W, p.Styles.Success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.W, p.Styles.Warn.Render("[Warn]:")+" "+fmt.Sprintf(format, args...))
}

// Dim prints a low-emphasis line.
func (p *Printer) Dim(format string, args ...any) {
	fmt.Fprintln(p.W, p.Styles.Help.Render(fmt.Sprintf(format, args...)))
}
