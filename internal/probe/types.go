package probe

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatInfo holds container-level metadata from ffprobe's format section.
type FormatInfo struct {
	Filename   string
	NbStreams  int
	FormatName string
	Duration   float64
	Size       int64
	BitRate    int64
}

// VideoStream holds the parsed properties of a single video stream.
type VideoStream struct {
	Index        int
	Codec        string
	PixFmt       string
	Width        int
	Height       int
	BitRate      int64
	Duration     float64
	AvgFrameRate string
}

// AudioStream holds the parsed properties of a single audio stream.
type AudioStream struct {
	Index         int
	Codec         string
	Channels      int
	ChannelLayout string
	SampleRate    int
	BitRate       int64
	Duration      float64
}

// ProbeResult is the fully parsed output of a single ffprobe JSON call.
// PrimaryVideo is the first non-attached-pic video stream (nil if none).
type ProbeResult struct {
	Format       FormatInfo
	PrimaryVideo *VideoStream
	AudioStreams []AudioStream
}

// HasVideo reports whether a primary video stream exists.
func (p *ProbeResult) HasVideo() bool { return p.PrimaryVideo != nil }

// HasAudio reports whether at least one audio stream exists.
func (p *ProbeResult) HasAudio() bool { return len(p.AudioStreams) > 0 }

// PrimaryAudio returns the first audio stream, or nil.
func (p *ProbeResult) PrimaryAudio() *AudioStream {
	if len(p.AudioStreams) == 0 {
		return nil
	}
	return &p.AudioStreams[0]
}

// Duration returns the container duration in seconds, falling back to the
// longest stream duration when the format section has none (common for
// FLV files written by streaming servers).
func (p *ProbeResult) Duration() float64 {
	if p.Format.Duration > 0 {
		return p.Format.Duration
	}
	return max(p.VideoDuration(), p.AudioDuration())
}

// VideoDuration returns the primary video stream's duration, or the
// container duration when the stream does not report one.
func (p *ProbeResult) VideoDuration() float64 {
	if p.PrimaryVideo == nil {
		return 0
	}
	if p.PrimaryVideo.Duration > 0 {
		return p.PrimaryVideo.Duration
	}
	return p.Format.Duration
}

// AudioDuration returns the first audio stream's duration, or the container
// duration when the stream does not report one.
func (p *ProbeResult) AudioDuration() float64 {
	a := p.PrimaryAudio()
	if a == nil {
		return 0
	}
	if a.Duration > 0 {
		return a.Duration
	}
	return p.Format.Duration
}

// VideoBitRate returns the primary video stream bitrate in bits/sec,
// falling back to the format-level bitrate when the stream value is
// unavailable or zero.
func (p *ProbeResult) VideoBitRate() int64 {
	if p.PrimaryVideo != nil && p.PrimaryVideo.BitRate > 0 {
		return p.PrimaryVideo.BitRate
	}
	return p.Format.BitRate
}

// Resolution returns "WxH" for the primary video stream, or "unknown".
func (p *ProbeResult) Resolution() string {
	if p.PrimaryVideo == nil || p.PrimaryVideo.Width <= 0 || p.PrimaryVideo.Height <= 0 {
		return "unknown"
	}
	return strconv.Itoa(p.PrimaryVideo.Width) + "x" + strconv.Itoa(p.PrimaryVideo.Height)
}

// FrameRate parses the primary video stream's avg_frame_rate ("30000/1001",
// "25/1", "0/0"). Returns 0 when unknown.
func (p *ProbeResult) FrameRate() float64 {
	if p.PrimaryVideo == nil {
		return 0
	}
	return parseRational(p.PrimaryVideo.AvgFrameRate)
}

// Drift lists the stream properties that differ between two segments of the
// same channel: video codec, resolution, audio codec, sample rate. The
// concat demuxer tolerates most of these but output quality may suffer.
func Drift(a, b *ProbeResult) []string {
	var out []string
	av, bv := a.PrimaryVideo, b.PrimaryVideo
	switch {
	case (av == nil) != (bv == nil):
		out = append(out, "video stream presence")
	case av != nil:
		if av.Codec != bv.Codec {
			out = append(out, fmt.Sprintf("video codec %s -> %s", av.Codec, bv.Codec))
		}
		if a.Resolution() != b.Resolution() {
			out = append(out, fmt.Sprintf("resolution %s -> %s", a.Resolution(), b.Resolution()))
		}
	}
	aa, ba := a.PrimaryAudio(), b.PrimaryAudio()
	switch {
	case (aa == nil) != (ba == nil):
		out = append(out, "audio stream presence")
	case aa != nil:
		if aa.Codec != ba.Codec {
			out = append(out, fmt.Sprintf("audio codec %s -> %s", aa.Codec, ba.Codec))
		}
		if aa.SampleRate != ba.SampleRate {
			out = append(out, fmt.Sprintf("sample rate %d -> %d", aa.SampleRate, ba.SampleRate))
		}
	}
	return out
}

func parseRational(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}
