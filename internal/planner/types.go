package planner

import (
	"github.com/backmassage/sessionmux/internal/probe"
	"github.com/backmassage/sessionmux/internal/stream"
)

// AudioSource names the channel the output audio is taken from.
type AudioSource int

const (
	AudioNone AudioSource = iota
	AudioCamera
	AudioScreen
)

func (a AudioSource) String() string {
	switch a {
	case AudioCamera:
		return "camera"
	case AudioScreen:
		return "screen"
	default:
		return "none"
	}
}

// Input is one merged channel together with its ffprobe result.
type Input struct {
	Stream *stream.LogicalStream
	Probe  *probe.ProbeResult
}

func (in *Input) hasVideo() bool { return in != nil && in.Probe != nil && in.Probe.HasVideo() }

func (in *Input) hasAudio() bool { return in != nil && in.Probe != nil && in.Probe.HasAudio() }

// SyncPlan holds every decision needed to build the final encode command.
// Input 0 is always the screen stream; input 1 is the camera stream when
// CameraInput is set.
type SyncPlan struct {
	ScreenPath    string
	ScreenDecoder string // Forced decoder for input 0 ("" = autodetect).
	CameraPath    string
	CameraInput   bool // Camera file is passed as input 1.

	FilterComplex string
	VideoLabel    string // "[vout]"
	AudioLabel    string // "[aout]", or "" when AudioSource is AudioNone.
	AudioSource   AudioSource

	PadSeconds     float64 // Clone-padding added to the screen video tail.
	Overlay        bool    // Camera picture-in-picture is drawn.
	ExpectedLength float64 // Seconds the output should last.

	Notes []string // Human-readable decisions for verbose logs.
}

// MapArgs returns the -map arguments for the plan's output streams.
func (p *SyncPlan) MapArgs() []string {
	args := []string{"-map", p.VideoLabel}
	if p.AudioLabel != "" {
		args = append(args, "-map", p.AudioLabel)
	}
	return args
}
