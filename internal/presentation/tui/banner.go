package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the redliner ASCII banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	// Red to amber, like ink on a marked-up draft
	lines := []struct {
		text  string
		color string
	}{
		{"                 _ _ _                 ", "#ef4444"},
		{"  _ __ ___  __| | (_)_ __   ___ _ __ ", "#f05a3a"},
		{" | '__/ _ \\/ _` | | | '_ \\ / _ \\ '__|", "#f26f31"},
		{" | | |  __/ (_| | | | | | |  __/ |   ", "#f48528"},
		{" |_|  \\___|\\__,_|_|_|_| |_|\\___|_|   ", "#f59e0b"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
