package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/display"
	"github.com/backmassage/sessionmux/internal/logging"
	"github.com/backmassage/sessionmux/internal/stream"
	"github.com/backmassage/sessionmux/internal/term"
)

// segmentRow holds the probed data of one segment for the analysis table.
type segmentRow struct {
	Channel    stream.Channel
	Name       string
	VideoCodec string
	Resolution string
	VideoKbps  int64
	AudioCodec string
	AudioKbps  int64
	Duration   float64
}

// Analyze fetches each source, probes every segment of both channels and
// prints a per-recording table with bitrate outliers highlighted. Nothing
// is merged or encoded. A source that cannot be fetched is reported and
// skipped.
func Analyze(ctx context.Context, cfg *config.Config, log *logging.Logger, deps *Deps) error {
	entries, err := Entries(cfg)
	if err != nil {
		return err
	}
	out := deps.Out
	if out == nil {
		out = os.Stdout
	}

	for i, e := range entries {
		if ctx.Err() != nil {
			log.Warn("Interrupted")
			return ctx.Err()
		}
		log.Info("[%d/%d] Analyzing %s", i+1, len(entries), e.Source)
		rows, err := analyzeSource(ctx, cfg, log, deps, e.Source)
		if err != nil {
			log.Error("%s: %v", e.Source, err)
			continue
		}
		if len(rows) == 0 {
			log.Warn("No segments could be probed")
			continue
		}

		var videoKbpsVals, audioKbpsVals []float64
		for _, r := range rows {
			if r.VideoKbps > 0 {
				videoKbpsVals = append(videoKbpsVals, float64(r.VideoKbps))
			}
			if r.AudioKbps > 0 {
				audioKbpsVals = append(audioKbpsVals, float64(r.AudioKbps))
			}
		}
		vStats := computeStats(videoKbpsVals)
		aStats := computeStats(audioKbpsVals)

		fmt.Fprintln(out)
		printAnalysisTable(out, rows, vStats, aStats)
		printAnalysisSummary(log, rows, vStats, aStats)
	}
	return nil
}

// analyzeSource makes the source's segments available in a scratch
// workspace, removed before returning, and probes each one.
func analyzeSource(ctx context.Context, cfg *config.Config, log *logging.Logger, deps *Deps, raw string) ([]segmentRow, error) {
	src, err := deps.Fetcher.Identify(ctx, raw)
	if err != nil {
		return nil, err
	}
	ws := filepath.Join(cfg.WorkDir, "sessionmux-analyze-"+uuid.NewString())
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(ws)

	fetched, err := deps.Fetcher.Fetch(ctx, src, ws)
	if err != nil {
		return nil, err
	}
	ch, err := stream.Locate(fetched.Root, false)
	if err != nil {
		return nil, err
	}

	segs := append(append([]stream.MediaSegment{}, ch.Screen...), ch.Camera...)
	progress := deps.Progress
	var rows []segmentRow
	var skipped int
	for i, seg := range segs {
		if ctx.Err() != nil {
			return rows, ctx.Err()
		}
		name := filepath.Base(seg.Path)
		printProgress(progress, i+1, len(segs), skipped, name)

		pr, err := deps.Inspector.Probe(ctx, seg.Path)
		if err != nil {
			skipped++
			clearProgress(progress)
			log.Warn("Skip (probe failed): %s", name)
			continue
		}

		row := segmentRow{Channel: seg.Channel, Name: name, Duration: pr.Duration()}
		if pr.PrimaryVideo != nil {
			row.VideoCodec = pr.PrimaryVideo.Codec
			row.Resolution = pr.Resolution()
			row.VideoKbps = pr.VideoBitRate() / 1000
		}
		if a := pr.PrimaryAudio(); a != nil {
			row.AudioCodec = a.Codec
			row.AudioKbps = a.BitRate / 1000
		}
		rows = append(rows, row)
	}
	clearProgress(progress)
	return rows, nil
}

// iqrBounds holds the IQR-based thresholds for outlier classification.
type iqrBounds struct {
	q1, q3    float64
	outlierLo float64 // Q1 - 1.5*IQR
	outlierHi float64 // Q3 + 1.5*IQR
	extremeLo float64 // Q1 - 3.0*IQR
	extremeHi float64 // Q3 + 3.0*IQR
	valid     bool
}

func computeStats(vals []float64) iqrBounds {
	if len(vals) < 4 {
		return iqrBounds{}
	}

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1

	return iqrBounds{
		q1:        q1,
		q3:        q3,
		outlierLo: q1 - 1.5*iqr,
		outlierHi: q3 + 1.5*iqr,
		extremeLo: q1 - 3.0*iqr,
		extremeHi: q3 + 3.0*iqr,
		valid:     iqr > 0,
	}
}

// classify returns "" (normal), "outlier", or "extreme" for a value.
func (b *iqrBounds) classify(v float64) string {
	if !b.valid || v <= 0 {
		return ""
	}
	if v < b.extremeLo || v > b.extremeHi {
		return "extreme"
	}
	if v < b.outlierLo || v > b.outlierHi {
		return "outlier"
	}
	return ""
}

func printAnalysisTable(out io.Writer, rows []segmentRow, vStats, aStats iqrBounds) {
	nameW := len("Segment")
	vcW := len("Video")
	resW := len("Size")
	vbW := len("Video Kbps")
	acW := len("Audio")
	abW := len("Audio Kbps")

	for _, r := range rows {
		nameW = max(nameW, len(r.Name))
		vcW = max(vcW, len(orNone(r.VideoCodec)))
		resW = max(resW, len(orNone(r.Resolution)))
		vbW = max(vbW, len(display.FormatBitrateLabel(r.VideoKbps)))
		acW = max(acW, len(orNone(r.AudioCodec)))
		abW = max(abW, len(fmtAudioKbps(r.AudioKbps)))
	}
	if nameW > 40 {
		nameW = 40
	}

	header := fmt.Sprintf("  %-6s  %-*s  %-*s  %-*s  %-*s  %-*s  %-*s  %s",
		"Chan",
		nameW, "Segment",
		vcW, "Video",
		resW, "Size",
		vbW, "Video Kbps",
		acW, "Audio",
		abW, "Audio Kbps",
		"Length",
	)
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, "  "+strings.Repeat("─", len(header)-2))

	for _, r := range rows {
		name := r.Name
		if len(name) > nameW {
			name = name[:nameW-1] + "…"
		}

		vClass := vStats.classify(float64(r.VideoKbps))
		aClass := aStats.classify(float64(r.AudioKbps))

		// Pad before coloring so escape bytes do not count as width.
		vbCell := colorPad(display.FormatBitrateLabel(r.VideoKbps), vbW, vClass)
		abCell := colorPad(fmtAudioKbps(r.AudioKbps), abW, aClass)

		fmt.Fprintf(out, "  %-6s  %-*s  %-*s  %-*s  %s  %-*s  %s  %-8s %s\n",
			r.Channel,
			nameW, name,
			vcW, orNone(r.VideoCodec),
			resW, orNone(r.Resolution),
			vbCell,
			acW, orNone(r.AudioCodec),
			abCell,
			display.FormatSeconds(r.Duration),
			formatFlag(worstFlag(vClass, aClass)),
		)
	}
	fmt.Fprintln(out)
}

func printAnalysisSummary(log *logging.Logger, rows []segmentRow, vStats, aStats iqrBounds) {
	var outliers, extremes int
	for _, r := range rows {
		vClass := vStats.classify(float64(r.VideoKbps))
		aClass := aStats.classify(float64(r.AudioKbps))
		worst := worstFlag(vClass, aClass)
		switch worst {
		case "extreme":
			extremes++
		case "outlier":
			outliers++
		}
	}

	var screen, camera float64
	for _, r := range rows {
		if r.Channel == stream.ChannelCamera {
			camera += r.Duration
		} else {
			screen += r.Duration
		}
	}
	log.Info("Probed %d segment(s): screen %s, camera %s", len(rows),
		display.FormatSeconds(screen), display.FormatSeconds(camera))
	if vStats.valid {
		log.Info("  Video bitrate IQR: %.0f – %.0f kbps (outlier < %.0f or > %.0f)",
			vStats.q1, vStats.q3, vStats.outlierLo, vStats.outlierHi)
	}
	if aStats.valid {
		log.Info("  Audio bitrate IQR: %.0f – %.0f kbps (outlier < %.0f or > %.0f)",
			aStats.q1, aStats.q3, aStats.outlierLo, aStats.outlierHi)
	}
	if outliers > 0 {
		log.Outlier("  %d outlier(s) flagged [*]", outliers)
	}
	if extremes > 0 {
		log.Error("  %d extreme outlier(s) flagged [!]", extremes)
	}
	if outliers == 0 && extremes == 0 {
		log.Success("  No outliers detected")
	}
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtAudioKbps(kbps int64) string {
	if kbps <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d kbps", kbps)
}

func worstFlag(classes ...string) string {
	worst := ""
	for _, c := range classes {
		if c == "extreme" {
			return "extreme"
		}
		if c == "outlier" {
			worst = "outlier"
		}
	}
	return worst
}

func formatFlag(flag string) string {
	switch flag {
	case "extreme":
		return term.Red + "[!]" + term.NC
	case "outlier":
		return term.Orange + "[*]" + term.NC
	default:
		return ""
	}
}

// colorPad pads a plain string to width, then wraps in ANSI color. This
// ensures %-*s-style alignment works correctly regardless of escape sequences.
func colorPad(s string, width int, class string) string {
	padded := fmt.Sprintf("%-*s", width, s)
	switch class {
	case "extreme":
		return term.Red + padded + term.NC
	case "outlier":
		return term.Orange + padded + term.NC
	default:
		return padded
	}
}

// printProgress shows a live probe counter as an inline \r-overwritten
// line. A nil w (piped or parallel output) disables it; the skip warnings
// already leave enough breadcrumbs there.
func printProgress(w io.Writer, current, total, skipped int, name string) {
	if w == nil {
		return
	}
	pct := current * 100 / total
	status := fmt.Sprintf("  Probing [%d/%d] %d%% ", current, total, pct)
	if skipped > 0 {
		status += fmt.Sprintf("(%d skipped) ", skipped)
	}

	maxName := 40
	if len(name) > maxName {
		name = name[:maxName-1] + "…"
	}
	status += name

	// Pad to 80 chars to overwrite previous longer lines, then \r.
	if len(status) < 80 {
		status += strings.Repeat(" ", 80-len(status))
	}
	fmt.Fprintf(w, "\r%s", status)
}

// clearProgress erases the inline progress line.
func clearProgress(w io.Writer) {
	if w != nil {
		fmt.Fprintf(w, "\r%s\r", strings.Repeat(" ", 80))
	}
}

// percentile computes the p-th percentile using linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi || hi >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
