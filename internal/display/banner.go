package display

import (
	"fmt"
	"io"

	"github.com/backmassage/sessionmux/internal/term"
)

// PrintBanner prints the ASCII art banner and version; uses Magenta if colors are enabled.
func PrintBanner(w io.Writer, version string) {
	fmt.Fprint(w, term.Magenta)
	fmt.Fprint(w, `                      _
 ___  ___  ___ ___(_) ___  _ __  _ __ ___  _   ___  __
/ __|/ _ \/ __/ __| |/ _ \| '_ \| '_ `+"`"+` _ \| | | \ \/ /
\__ \  __/\__ \__ \ | (_) | | | | | | | | | |_| |>  <
|___/\___||___/___/_|\___/|_| |_|_| |_| |_|\__,_/_/\_\
`)
	fmt.Fprint(w, term.NC)
	fmt.Fprintf(w, "  v%s\n\n", version)
}
