package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	`                       _`,
	`  __ _ __ _ ___ _ _  | |_ _ _ _  _ _ _`,
	` / _`+"`"+` / _`+"`"+` / -_) ' \ |  _| '_| || | ' \`,
	` \__,_\__, \___|_||_| \__|_|  \_,_|_||_|`,
	`      |___/`,
}

var bannerColors = []string{"#818cf8", "#a78bfa", "#c084fc", "#e879f9", "#f472b6"}

// PrintBanner writes the agentrun banner and version to w.
// Servers speaking on stdout pass os.Stderr.
func PrintBanner(w io.Writer, version string) {
	p := termenv.EnvColorProfile()
	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, termenv.String(line).Foreground(p.Color(bannerColors[i%len(bannerColors)])))
	}
	if version != "" {
		fmt.Fprintln(w, termenv.String("  v"+version).Faint())
	}
	fmt.Fprintln(w)
}
