package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/probe"
	"github.com/backmassage/sessionmux/internal/stream"
)

// --- Helper builders ---

func defaultCfg() *config.Config {
	cfg := config.DefaultConfig()
	return &cfg
}

func candidate(t *testing.T, id string) encoder.Candidate {
	t.Helper()
	c, ok := encoder.Lookup(id)
	require.True(t, ok, "candidate %q not in catalog", id)
	return c
}

func screenInput(videoSec, audioSec float64) *Input {
	pr := &probe.ProbeResult{
		Format:       probe.FormatInfo{Duration: max(videoSec, audioSec)},
		PrimaryVideo: &probe.VideoStream{Codec: "vp6f", Width: 1280, Height: 720, Duration: videoSec},
	}
	if audioSec > 0 {
		pr.AudioStreams = []probe.AudioStream{{Codec: "nellymoser", SampleRate: 22050, Duration: audioSec}}
	}
	return &Input{
		Stream: &stream.LogicalStream{Channel: stream.ChannelScreen, Path: "/w/screen-merged.flv", HasVideo: true, HasAudio: audioSec > 0},
		Probe:  pr,
	}
}

func cameraInput(videoSec, audioSec float64) *Input {
	pr := &probe.ProbeResult{Format: probe.FormatInfo{Duration: max(videoSec, audioSec)}}
	if videoSec > 0 {
		pr.PrimaryVideo = &probe.VideoStream{Codec: "h264", Width: 640, Height: 480, Duration: videoSec}
	}
	if audioSec > 0 {
		pr.AudioStreams = []probe.AudioStream{{Codec: "speex", SampleRate: 16000, Duration: audioSec}}
	}
	return &Input{
		Stream: &stream.LogicalStream{Channel: stream.ChannelCamera, Path: "/w/camera-merged.flv", HasVideo: videoSec > 0, HasAudio: audioSec > 0},
		Probe:  pr,
	}
}

// --- BuildPlan ---

func TestBuildPlan_CameraAudioIsAuthoritative(t *testing.T) {
	plan, err := BuildPlan(defaultCfg(), candidate(t, "x264"), screenInput(600, 600), cameraInput(0, 600))
	require.NoError(t, err)
	assert.Equal(t, AudioCamera, plan.AudioSource)
	assert.True(t, plan.CameraInput, "camera must be input 1")
	assert.Equal(t, "/w/camera-merged.flv", plan.CameraPath)
	want := "[0:v]fps=30,setpts=PTS-STARTPTS,format=yuv420p[vout];" +
		"[1:a]aresample=44100:async=1:first_pts=0,asetpts=PTS-STARTPTS[aout]"
	assert.Equal(t, want, plan.FilterComplex)
	assert.Equal(t, "-map [vout] -map [aout]", strings.Join(plan.MapArgs(), " "))
	assert.Zero(t, plan.PadSeconds, "equal lengths need no pad")
}

func TestBuildPlan_PadsShortScreenVideo(t *testing.T) {
	plan, err := BuildPlan(defaultCfg(), candidate(t, "x264"), screenInput(590, 0), cameraInput(0, 600))
	require.NoError(t, err)
	assert.Equal(t, 10.0, plan.PadSeconds)
	assert.Contains(t, plan.FilterComplex,
		"setpts=PTS-STARTPTS,tpad=stop_mode=clone:stop_duration=10.000,format=yuv420p[vout]",
		"tpad must sit between normalization and upload")
	assert.Equal(t, 600.0, plan.ExpectedLength)
}

func TestBuildPlan_SmallDriftNotPadded(t *testing.T) {
	plan, err := BuildPlan(defaultCfg(), candidate(t, "x264"), screenInput(599.8, 0), cameraInput(0, 600))
	require.NoError(t, err)
	assert.Zero(t, plan.PadSeconds)
	assert.NotContains(t, plan.FilterComplex, "tpad")
}

func TestBuildPlan_FallsBackToScreenAudio(t *testing.T) {
	tests := []struct {
		name   string
		camera *Input
	}{
		{"no camera channel", nil},
		{"silent camera", cameraInput(300, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := BuildPlan(defaultCfg(), candidate(t, "x264"), screenInput(300, 300), tt.camera)
			require.NoError(t, err)
			assert.Equal(t, AudioScreen, plan.AudioSource)
			assert.False(t, plan.CameraInput, "camera without audio or overlay must not be an input")
			assert.Contains(t, plan.FilterComplex, "[0:a]aresample=44100:async=1:first_pts=0")
		})
	}
}

func TestBuildPlan_NoAudioAnywhere(t *testing.T) {
	plan, err := BuildPlan(defaultCfg(), candidate(t, "x264"), screenInput(120, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, AudioNone, plan.AudioSource)
	assert.Empty(t, plan.AudioLabel)
	assert.NotContains(t, plan.FilterComplex, "aresample")
	assert.Len(t, plan.MapArgs(), 2, "video only")
}

func TestBuildPlan_ScreenWithoutVideo(t *testing.T) {
	screen := screenInput(0, 60)
	screen.Probe.PrimaryVideo = nil
	_, err := BuildPlan(defaultCfg(), candidate(t, "x264"), screen, nil)
	assert.ErrorIs(t, err, ErrNoScreenVideo)
}

func TestBuildPlan_VAAPIUpload(t *testing.T) {
	plan, err := BuildPlan(defaultCfg(), candidate(t, "vaapi"), screenInput(60, 60), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plan.FilterComplex, "[0:v]fps=30,setpts=PTS-STARTPTS,format=nv12,hwupload[vout]"), plan.FilterComplex)
}

func TestBuildPlan_PictureInPicture(t *testing.T) {
	cfg := defaultCfg()
	cfg.CameraLayout = config.CameraPiP
	plan, err := BuildPlan(cfg, candidate(t, "vaapi"), screenInput(60, 0), cameraInput(60, 60))
	require.NoError(t, err)
	require.True(t, plan.Overlay)
	want := "[0:v]fps=30,setpts=PTS-STARTPTS[base];" +
		"[1:v]fps=30,setpts=PTS-STARTPTS,scale=320:-2[pip];" +
		"[base][pip]overlay=W-w-16:H-h-16:eof_action=pass,format=nv12,hwupload[vout];" +
		"[1:a]aresample=44100:async=1:first_pts=0,asetpts=PTS-STARTPTS[aout]"
	assert.Equal(t, want, plan.FilterComplex)
}

func TestBuildPlan_PictureInPictureWithoutCameraVideo(t *testing.T) {
	cfg := defaultCfg()
	cfg.CameraLayout = config.CameraPiP
	plan, err := BuildPlan(cfg, candidate(t, "x264"), screenInput(60, 0), cameraInput(0, 60))
	require.NoError(t, err)
	assert.False(t, plan.Overlay, "overlay requested without camera video")
	assert.NotEmpty(t, plan.Notes, "expected a note explaining the skipped overlay")
}

func TestBuildPlan_CustomRates(t *testing.T) {
	cfg := defaultCfg()
	cfg.FrameRate = 25
	cfg.AudioSampleRate = 48000
	cfg.ScreenDecoder = "vp6f"
	plan, err := BuildPlan(cfg, candidate(t, "x264"), screenInput(60, 60), nil)
	require.NoError(t, err)
	assert.Contains(t, plan.FilterComplex, "fps=25,")
	assert.Contains(t, plan.FilterComplex, "aresample=48000:")
	assert.Equal(t, "vp6f", plan.ScreenDecoder)
}

func TestPipScale(t *testing.T) {
	tests := []struct {
		width int
		want  string
	}{
		{1280, "scale=320:-2"},
		{1366, "scale=340:-2"},
		{0, "scale=iw/4:-2"},
	}
	for _, tt := range tests {
		in := screenInput(1, 0)
		in.Probe.PrimaryVideo.Width = tt.width
		assert.Equal(t, tt.want, pipScale(in), "width %d", tt.width)
	}
}
