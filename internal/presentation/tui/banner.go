package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	"  _       _   _   _          ",
	" | | __ _| |_| |_(_) ___ ___ ",
	" | |/ _` | __| __| |/ __/ _ \\",
	" | | (_| | |_| |_| | (_|  __/",
	" |_|\\__,_|\\__|\\__|_|\\___\\___|",
}

// Subtle gradient-like color scheme (Indigo/Violet).
var bannerColors = []string{"#818cf8", "#a78bfa", "#c084fc", "#e879f9", "#f472b6"}

// PrintBanner writes the Lattice banner to w followed by the node id.
func PrintBanner(w io.Writer, nodeID string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()

	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, out.String(line).Foreground(p.Color(bannerColors[i%len(bannerColors)])))
	}
	fmt.Fprintln(w, out.String("  node "+nodeID).Faint())
	fmt.Fprintln(w)
}
