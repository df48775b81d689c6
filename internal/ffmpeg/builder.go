package ffmpeg

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Options control the shared argument preamble.
type Options struct {
	Verbose bool // -loglevel info instead of error.
	Stats   bool // -stats for live progress.
}

// Preamble returns the arguments every ffmpeg invocation starts with.
func Preamble(o Options) []string {
	args := make([]string, 0, 16)
	args = append(args, "-hide_banner", "-nostdin", "-y")

	// Loglevel: info when verbose, otherwise error.
	if o.Verbose {
		args = append(args, "-loglevel", "info")
	} else {
		args = append(args, "-loglevel", "error")
	}

	// Stats for live progress display.
	if o.Stats {
		args = append(args, "-stats", "-stats_period", "1")
	} else {
		args = append(args, "-nostats")
	}
	return args
}

// BuildConcat returns the arguments that stitch the segments listed in
// listFile into out without transcoding. All streams are kept.
func BuildConcat(o Options, listFile, out string) []string {
	args := Preamble(o)
	args = append(args,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-map", "0",
		"-c", "copy",
		out,
	)
	return args
}

// BuildSample returns the arguments that cut the first seconds of in's
// first video stream into out by stream copy. The clip feeds encoder trials.
func BuildSample(o Options, in, out string, seconds float64) []string {
	args := Preamble(o)
	args = append(args,
		"-i", in,
		"-t", Seconds(seconds),
		"-map", "0:v:0",
		"-an",
		"-c", "copy",
		out,
	)
	return args
}

// ProbeArgs returns the ffprobe arguments that dump format and stream info as JSON.
func ProbeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

// Seconds formats a duration in seconds the way ffmpeg's -t/-ss expect.
func Seconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// WriteConcatList writes an ffmpeg concat demuxer list referencing paths in
// order. Paths are made absolute and single quotes escaped.
func WriteConcatList(listFile string, paths []string) error {
	f, err := os.Create(listFile)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		safe := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", safe); err != nil {
			_ = f.Close()
			return fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write concat list: %w", err)
	}
	return f.Close()
}
