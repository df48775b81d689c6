package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/backmassage/sessionmux/internal/ffmpeg"
)

// Sampler cuts the short clip encoder trials run against.
type Sampler struct {
	Runner    ffmpeg.Runner
	FFmpegBin string
	Seconds   float64       // Clip length; default 5.
	Timeout   time.Duration // Default 60s.
	Options   ffmpeg.Options
}

// Clip copies the first Seconds of src's video into dir and returns the
// clip path. The caller removes it.
func (s *Sampler) Clip(ctx context.Context, src *LogicalStream, dir string) (string, error) {
	if !src.HasVideo {
		return "", fmt.Errorf("sample clip: %s stream has no video", src.Channel)
	}
	secs := s.Seconds
	if secs <= 0 {
		secs = 5
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	bin := s.FFmpegBin
	if bin == "" {
		bin = "ffmpeg"
	}

	ext := strings.ToLower(filepath.Ext(src.Path))
	if ext == "" {
		ext = ".mkv"
	}
	out := filepath.Join(dir, "sample-"+string(src.Channel)+ext)
	res := s.Runner.Run(ctx, ffmpeg.Command{
		Name:    bin,
		Args:    ffmpeg.BuildSample(s.Options, src.Path, out, secs),
		Timeout: timeout,
	})
	if !res.OK() {
		_ = os.Remove(out)
		return "", ffmpeg.NewToolError("sample clip", res)
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		_ = os.Remove(out)
		return "", fmt.Errorf("sample clip: empty output")
	}
	return out, nil
}
