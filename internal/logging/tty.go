package logging

import (
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether f is a terminal. f is typically an *os.File used as
// a reader (stdin) or writer (stderr); anything without an Fd method is not
// a terminal.
func IsTTY(f any) bool {
	fd, ok := f.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(fd.Fd()))
}

// SupportsColor reports whether ANSI colors should be written to f. NO_COLOR
// (https://no-color.org) and TERM=dumb disable color; otherwise f must be a
// terminal.
func SupportsColor(f any) bool {
	return supportsColor(IsTTY(f))
}

func supportsColor(isTTY bool) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY
}
