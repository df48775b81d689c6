package planner

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/encoder"
)

// ErrNoScreenVideo is returned when the screen input has no video stream to
// anchor the output on.
var ErrNoScreenVideo = errors.New("screen stream has no video")

// padThreshold is how much longer the audio clock must run than the screen
// video before the video tail is padded.
const padThreshold = 0.5

// BuildPlan produces the SyncPlan for one recording. camera may be nil when
// the recording has no camera channel.
//
// Flow:
//  1. Order inputs (screen = 0, camera = 1 when it contributes anything)
//  2. Pick the audio source: camera, then screen, then none
//  3. Decide video tail padding against the chosen audio clock
//  4. Build the video chain (normalize, pad, optional overlay, upload)
//  5. Build the audio chain and join the graph
func BuildPlan(cfg *config.Config, cand encoder.Candidate, screen *Input, camera *Input) (*SyncPlan, error) {
	if !screen.hasVideo() {
		return nil, ErrNoScreenVideo
	}
	fps := cfg.FrameRate
	if fps <= 0 {
		fps = 30
	}
	rate := cfg.AudioSampleRate
	if rate <= 0 {
		rate = 44100
	}

	plan := &SyncPlan{
		ScreenPath:    screen.Stream.Path,
		ScreenDecoder: cfg.ScreenDecoder,
		VideoLabel:    "[vout]",
	}

	// --- 1. Inputs ---
	wantOverlay := cfg.CameraLayout == config.CameraPiP && camera.hasVideo()
	if cfg.CameraLayout == config.CameraPiP && camera != nil && !camera.hasVideo() {
		plan.Notes = append(plan.Notes, "camera has no video; picture-in-picture skipped")
	}
	if camera.hasAudio() || wantOverlay {
		plan.CameraInput = true
		plan.CameraPath = camera.Stream.Path
	}

	// --- 2. Audio source ---
	plan.AudioSource = chooseAudio(screen, camera)
	if plan.AudioSource == AudioScreen && camera != nil {
		plan.Notes = append(plan.Notes, "camera channel is silent; using screen audio")
	}

	// --- 3. Padding ---
	videoLen := screen.Probe.VideoDuration()
	audioLen := audioClock(plan.AudioSource, screen, camera)
	if audioLen > videoLen+padThreshold {
		plan.PadSeconds = math.Round((audioLen-videoLen)*1000) / 1000
		plan.Notes = append(plan.Notes,
			fmt.Sprintf("screen video %.2fs shorter than audio; cloning last frame", audioLen-videoLen))
	}
	plan.ExpectedLength = math.Max(videoLen, audioLen)

	// --- 4. Video ---
	var graph []string
	if wantOverlay {
		plan.Overlay = true
		graph = append(graph, overlayChains(fps, plan.PadSeconds, screen, cand, plan.VideoLabel)...)
	} else {
		graph = append(graph, screenChain(fps, plan.PadSeconds, cand, plan.VideoLabel))
	}

	// --- 5. Audio ---
	if plan.AudioSource != AudioNone {
		plan.AudioLabel = "[aout]"
		graph = append(graph, audioChain(plan.AudioSource, rate, plan.AudioLabel))
	}

	plan.FilterComplex = strings.Join(graph, ";")
	return plan, nil
}
