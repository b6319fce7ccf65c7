package ui

import (
	"io"

	"golang.org/x/term"
)

type fdProvider interface {
	Fd() uintptr
}

// TerminalWidth returns the column count of w when it is a terminal.
func TerminalWidth(w io.Writer) (int, bool) {
	if v, ok := w.(fdProvider); ok {
		if cols, _, err := term.GetSize(int(v.Fd())); err == nil {
			return cols, true
		}
	}
	return 0, false
}

// IsTerminal reports whether w is attached to a terminal.
func IsTerminal(w io.Writer) bool {
	v, ok := w.(fdProvider)
	return ok && term.IsTerminal(int(v.Fd()))
}
