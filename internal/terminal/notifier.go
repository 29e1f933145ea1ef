// Package terminal implements the run collaborators for an interactive
// terminal: prompts, notifications, downloads and URLs.
package terminal

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	colorBlue   = lipgloss.Color("12")
	colorYellow = lipgloss.Color("11")
	colorRed    = lipgloss.Color("9")
	colorGray   = lipgloss.Color("8")
)

// ColorEnabled reports whether styled output should be written to f.
func ColorEnabled(f *os.File, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Notifier prints notifications as single labelled lines.
type Notifier struct {
	out     io.Writer
	info    lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
}

// NewNotifier creates a Notifier writing to out.
func NewNotifier(out io.Writer, color bool) *Notifier {
	n := &Notifier{
		out:     out,
		info:    lipgloss.NewStyle(),
		warning: lipgloss.NewStyle(),
		err:     lipgloss.NewStyle(),
	}
	if color {
		n.info = n.info.Foreground(colorBlue).Bold(true)
		n.warning = n.warning.Foreground(colorYellow).Bold(true)
		n.err = n.err.Foreground(colorRed).Bold(true)
	}
	return n
}

// Info prints an information line.
func (n *Notifier) Info(_ context.Context, text string) {
	n.print(n.info, "info", text)
}

// Warning prints a warning line.
func (n *Notifier) Warning(_ context.Context, text string) {
	n.print(n.warning, "warning", text)
}

// Error prints an error line.
func (n *Notifier) Error(_ context.Context, text string) {
	n.print(n.err, "error", text)
}

func (n *Notifier) print(style lipgloss.Style, label, text string) {
	fmt.Fprintf(n.out, "%s %s\n", style.Render("["+label+"]"), text)
}

// Browser prints URLs instead of opening them.
type Browser struct {
	out   io.Writer
	label lipgloss.Style
}

// NewBrowser creates a Browser writing to out.
func NewBrowser(out io.Writer, color bool) *Browser {
	b := &Browser{out: out, label: lipgloss.NewStyle()}
	if color {
		b.label = b.label.Foreground(colorGray)
	}
	return b
}

// Open prints url.
func (b *Browser) Open(_ context.Context, url string) error {
	_, err := fmt.Fprintf(b.out, "%s %s\n", b.label.Render("open"), url)
	return err
}

// Redirect prints url as a redirect.
func (b *Browser) Redirect(_ context.Context, url string) error {
	_, err := fmt.Fprintf(b.out, "%s %s\n", b.label.Render("redirect"), url)
	return err
}
