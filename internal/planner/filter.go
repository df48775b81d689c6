package planner

import (
	"fmt"
	"strings"

	"github.com/backmassage/sessionmux/internal/encoder"
)

// Picture-in-picture geometry: camera scaled to a quarter of the screen
// width, inset from the bottom-right corner.
const (
	pipDivisor = 4
	pipMargin  = 16
)

// screenChain is the single-input graph: normalize the screen video,
// optionally pad its tail, then hand it to the encoder's upload filter.
func screenChain(fps int, pad float64, c encoder.Candidate, out string) string {
	filters := []string{encoder.NormalizeFilter(fps)}
	if pad > 0 {
		filters = append(filters, tpadFilter(pad))
	}
	if up := c.UploadFilter(); up != "" {
		filters = append(filters, up)
	}
	return "[0:v]" + strings.Join(filters, ",") + out
}

// overlayChains normalizes both video inputs onto the same frame clock and
// draws the camera in the bottom-right corner of the screen. The screen
// stays the main input, so the output ends with it.
func overlayChains(fps int, pad float64, screen *Input, c encoder.Candidate, out string) []string {
	base := []string{encoder.NormalizeFilter(fps)}
	if pad > 0 {
		base = append(base, tpadFilter(pad))
	}
	mix := []string{fmt.Sprintf("overlay=W-w-%d:H-h-%d:eof_action=pass", pipMargin, pipMargin)}
	if up := c.UploadFilter(); up != "" {
		mix = append(mix, up)
	}
	return []string{
		"[0:v]" + strings.Join(base, ",") + "[base]",
		"[1:v]" + encoder.NormalizeFilter(fps) + "," + pipScale(screen) + "[pip]",
		"[base][pip]" + strings.Join(mix, ",") + out,
	}
}

// pipScale sizes the camera to a quarter of the screen width. Without a
// known screen width it falls back to a quarter of the camera's own.
func pipScale(screen *Input) string {
	if v := screen.Probe.PrimaryVideo; v != nil && v.Width > 0 {
		w := v.Width / pipDivisor
		w -= w % 2
		if w < 2 {
			w = 2
		}
		return fmt.Sprintf("scale=%d:-2", w)
	}
	return fmt.Sprintf("scale=iw/%d:-2", pipDivisor)
}

// tpadFilter repeats the last video frame for secs seconds.
func tpadFilter(secs float64) string {
	return fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", secs)
}
