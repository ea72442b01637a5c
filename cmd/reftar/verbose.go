package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// verboseSink builds the warning callback wired into Create and Extract.
// Every line goes to stderr; when stderr is a terminal each line first clears
// the current terminal line, otherwise it is written plain.
func verboseSink(enabled bool) func(format string, args ...any) {
	if !enabled {
		return nil
	}
	interactive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	return func(format string, args ...any) {
		if interactive {
			fmt.Fprintf(os.Stderr, "\r\x1b[K"+format+"\n", args...)
			return
		}
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
