package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Print writes markdown to w, styled with glamour when w is a terminal and verbatim otherwise.
func Print(w io.Writer, markdown string) error {
	if IsTerminal(w) {
		if out, err := NewRenderer()(markdown); err == nil {
			markdown = out
		}
	}
	_, err := fmt.Fprint(w, markdown)
	return err
}
