package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/backmassage/sessionmux/internal/ffmpeg"
)

// ErrNoStreams is returned when ffprobe succeeds but reports no audio or
// video stream, e.g. for an empty or truncated file.
var ErrNoStreams = errors.New("no audio or video streams")

// Inspector returns the stream layout of a media file. The merger, the
// encoder prober and the renderer depend on this interface so tests can
// substitute canned results.
type Inspector interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// Prober is the ffprobe-backed Inspector.
type Prober struct {
	Runner  ffmpeg.Runner
	Bin     string        // Default "ffprobe".
	Timeout time.Duration // Per call; 0 = bounded only by ctx.
}

// NewProber returns a Prober using bin (or "ffprobe" when empty).
func NewProber(r ffmpeg.Runner, bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{Runner: r, Bin: bin, Timeout: 60 * time.Second}
}

// Probe runs a single ffprobe JSON call against path and returns the
// parsed result.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	res := p.Runner.Run(ctx, ffmpeg.Command{
		Name:    p.Bin,
		Args:    ffmpeg.ProbeArgs(path),
		Timeout: p.Timeout,
	})
	if !res.OK() {
		return nil, fmt.Errorf("ffprobe %q: %w", path, res.Err)
	}

	pr, err := ParseJSON(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	if pr.PrimaryVideo == nil && len(pr.AudioStreams) == 0 {
		return nil, fmt.Errorf("ffprobe %q: %w", path, ErrNoStreams)
	}
	return pr, nil
}

// ParseJSON converts raw ffprobe JSON output into a ProbeResult.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildResult(&raw), nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	NbStreams  int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index         int            `json:"index"`
	CodecName     string         `json:"codec_name"`
	CodecType     string         `json:"codec_type"`
	PixFmt        string         `json:"pix_fmt"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	BitRate       string         `json:"bit_rate"`
	Duration      string         `json:"duration"`
	AvgFrameRate  string         `json:"avg_frame_rate"`
	Channels      int            `json:"channels"`
	ChannelLayout string         `json:"channel_layout"`
	SampleRate    string         `json:"sample_rate"`
	Disposition   map[string]int `json:"disposition"`
}

// --- Conversion from wire types to domain types ---

func buildResult(raw *ffprobeOutput) *ProbeResult {
	pr := &ProbeResult{
		Format: convertFormat(&raw.Format),
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if s.Disposition["attached_pic"] == 1 || pr.PrimaryVideo != nil {
				continue
			}
			vs := convertVideo(s)
			pr.PrimaryVideo = &vs
		case "audio":
			pr.AudioStreams = append(pr.AudioStreams, convertAudio(s))
		}
	}
	return pr
}

func convertFormat(f *ffprobeFormat) FormatInfo {
	return FormatInfo{
		Filename:   f.Filename,
		NbStreams:  f.NbStreams,
		FormatName: f.FormatName,
		Duration:   parseFloat(f.Duration),
		Size:       parseInt64(f.Size),
		BitRate:    parseInt64(f.BitRate),
	}
}

func convertVideo(s *ffprobeStream) VideoStream {
	return VideoStream{
		Index:        s.Index,
		Codec:        s.CodecName,
		PixFmt:       s.PixFmt,
		Width:        s.Width,
		Height:       s.Height,
		BitRate:      parseInt64(s.BitRate),
		Duration:     parseFloat(s.Duration),
		AvgFrameRate: s.AvgFrameRate,
	}
}

func convertAudio(s *ffprobeStream) AudioStream {
	return AudioStream{
		Index:         s.Index,
		Codec:         s.CodecName,
		Channels:      s.Channels,
		ChannelLayout: s.ChannelLayout,
		SampleRate:    parseInt(s.SampleRate),
		BitRate:       parseInt64(s.BitRate),
		Duration:      parseFloat(s.Duration),
	}
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	n, _ := strconv.Atoi(s)
	return n
}
