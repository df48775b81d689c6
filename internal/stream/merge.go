package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/probe"
)

// Merger concatenates a channel's segments by stream copy.
type Merger struct {
	Runner    ffmpeg.Runner
	Inspector probe.Inspector
	FFmpegBin string
	Timeout   time.Duration // Per concat; 0 = bounded only by ctx.
	Options   ffmpeg.Options
}

// Merge sanity-probes every segment, then concatenates them in order into
// workDir. A single segment is returned as-is without running ffmpeg. Any
// failure is a *StreamMergeError naming the segment it was attributed to;
// no partial output is left behind.
func (m *Merger) Merge(ctx context.Context, ch Channel, segs []MediaSegment, workDir string) (*LogicalStream, error) {
	if len(segs) == 0 {
		return nil, &MissingStreamError{Root: workDir, Channel: ch}
	}

	probes := make([]*probe.ProbeResult, len(segs))
	for i, s := range segs {
		pr, err := m.Inspector.Probe(ctx, s.Path)
		if err != nil {
			return nil, &StreamMergeError{Channel: ch, Segment: filepath.Base(s.Path), Err: err}
		}
		probes[i] = pr
	}

	ls := &LogicalStream{
		Channel:  ch,
		Segments: len(segs),
		HasVideo: probes[0].HasVideo(),
		HasAudio: probes[0].HasAudio(),
	}
	for i := 1; i < len(probes); i++ {
		for _, d := range probe.Drift(probes[0], probes[i]) {
			ls.Warnings = append(ls.Warnings, fmt.Sprintf("%s: %s", filepath.Base(segs[i].Path), d))
		}
	}

	if len(segs) == 1 {
		ls.Path = segs[0].Path
		ls.Duration = probes[0].Duration()
		return ls, nil
	}

	bin := m.FFmpegBin
	if bin == "" {
		bin = "ffmpeg"
	}
	listFile := filepath.Join(workDir, string(ch)+"-concat.txt")
	out := filepath.Join(workDir, string(ch)+"-merged"+strings.ToLower(filepath.Ext(segs[0].Path)))
	if err := ffmpeg.WriteConcatList(listFile, Paths(segs)); err != nil {
		return nil, &StreamMergeError{Channel: ch, Segment: filepath.Base(segs[0].Path), Err: err}
	}
	defer os.Remove(listFile)

	res := m.Runner.Run(ctx, ffmpeg.Command{
		Name:    bin,
		Args:    ffmpeg.BuildConcat(m.Options, listFile, out),
		Timeout: m.Timeout,
	})
	if !res.OK() {
		_ = os.Remove(out)
		return nil, &StreamMergeError{
			Channel: ch,
			Segment: blameSegment(res.Stderr, segs),
			Err:     ffmpeg.NewToolError("concat", res),
		}
	}

	merged, err := m.Inspector.Probe(ctx, out)
	if err != nil {
		_ = os.Remove(out)
		return nil, &StreamMergeError{Channel: ch, Segment: filepath.Base(segs[len(segs)-1].Path), Err: err}
	}
	ls.Path = out
	ls.Owned = true
	ls.Duration = merged.Duration()
	return ls, nil
}

// blameSegment returns the base name of the last segment mentioned in
// stderr, or the last segment when none is mentioned.
func blameSegment(stderr string, segs []MediaSegment) string {
	blamed := filepath.Base(segs[len(segs)-1].Path)
	best := -1
	for _, s := range segs {
		name := filepath.Base(s.Path)
		if i := strings.LastIndex(stderr, name); i > best {
			best, blamed = i, name
		}
	}
	return blamed
}
