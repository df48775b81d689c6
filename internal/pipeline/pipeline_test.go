package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/connect"
	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/hardware"
	"github.com/backmassage/sessionmux/internal/logging"
	"github.com/backmassage/sessionmux/internal/probe"
)

// --- Batch tests ---

func TestParseBatch(t *testing.T) {
	in := `# weekly lectures
https://meet.example.edu/p1abc2def3/

https://meet.example.edu/p9zzz/, lecture two.mp4
"/data/rec,with,commas", custom
`
	entries, err := ParseBatch(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "https://meet.example.edu/p1abc2def3/", entries[0].Source)
	assert.Empty(t, entries[0].Name)
	assert.Equal(t, "lecture two.mp4", entries[1].Name)
	assert.Equal(t, 4, entries[1].Line)
	assert.Equal(t, "/data/rec,with,commas", entries[2].Source)
	assert.Equal(t, "custom", entries[2].Name)
}

func TestParseBatch_TooManyFields(t *testing.T) {
	_, err := ParseBatch(strings.NewReader("a,b,c\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestEntries_SourcesThenBatch(t *testing.T) {
	dir := t.TempDir()
	batch := filepath.Join(dir, "batch.txt")
	require.NoError(t, os.WriteFile(batch, []byte("https://x.example/p2/,two\n"), 0o644))
	cfg := config.DefaultConfig()
	cfg.Sources = []string{"https://x.example/p1/"}
	cfg.OutputName = "one"
	cfg.BatchFile = batch

	entries, err := Entries(&cfg)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Name)
	assert.Equal(t, "two", entries[1].Name)

	cfg.BatchFile = filepath.Join(dir, "missing.txt")
	_, err = Entries(&cfg)
	assert.Error(t, err, "missing batch file should fail")
}

// --- Run tests ---

// fakeFFmpeg writes the output file of every command except the encoder
// listing, which fails so all codecs count as compiled in.
type fakeFFmpeg struct {
	mu        sync.Mutex
	calls     [][]string
	failTrial bool
}

func (f *fakeFFmpeg) Run(_ context.Context, c ffmpeg.Command) ffmpeg.ExecResult {
	f.mu.Lock()
	f.calls = append(f.calls, c.Args)
	f.mu.Unlock()

	if containsArg(c.Args, "-encoders") {
		return ffmpeg.ExecResult{ExitCode: 1, Err: errors.New("exit status 1")}
	}
	out := c.Args[len(c.Args)-1]
	if f.failTrial && strings.Contains(out, ".trial-") {
		return ffmpeg.ExecResult{
			ExitCode: 1,
			Err:      errors.New("exit status 1"),
			Stderr:   "Unknown encoder 'libx264'\n",
		}
	}
	if err := os.WriteFile(out, []byte("media"), 0o644); err != nil {
		return ffmpeg.ExecResult{ExitCode: 1, Err: err}
	}
	return ffmpeg.ExecResult{Elapsed: 10 * time.Millisecond}
}

// matching returns the recorded argument lists that satisfy pred.
func (f *fakeFFmpeg) matching(pred func(args []string) bool) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, a := range f.calls {
		if pred(a) {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeFFmpeg) count(pred func(args []string) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.calls {
		if pred(a) {
			n++
		}
	}
	return n
}

func isTrial(args []string) bool { return strings.Contains(args[len(args)-1], ".trial-") }

func isEncode(args []string) bool { return containsArg(args, "-filter_complex") }

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func containsArg(args []string, v string) bool {
	for _, a := range args {
		if a == v {
			return true
		}
	}
	return false
}

// nameInspector answers by file name. Segments whose content is "corrupt"
// fail like a damaged FLV.
type nameInspector struct{}

func (nameInspector) Probe(_ context.Context, path string) (*probe.ProbeResult, error) {
	base := strings.ToLower(filepath.Base(path))
	video := func(d float64) *probe.ProbeResult {
		return &probe.ProbeResult{
			Format:       probe.FormatInfo{Duration: d},
			PrimaryVideo: &probe.VideoStream{Codec: "vp6f", Width: 1280, Height: 720, Duration: d},
		}
	}
	switch {
	case strings.HasPrefix(base, ".trial-"):
		return video(2), nil
	case strings.HasPrefix(base, "sample-"):
		return video(5), nil
	case strings.HasSuffix(base, ".part.mp4"):
		pr := video(60)
		pr.AudioStreams = []probe.AudioStream{{Codec: "aac", Duration: 60}}
		return pr, nil
	}
	if b, err := os.ReadFile(path); err == nil && string(b) == "corrupt" {
		return nil, errors.New("Invalid data found when processing input")
	}
	switch {
	case strings.HasPrefix(base, "screen"):
		return video(60), nil
	case strings.HasPrefix(base, "camera"):
		return &probe.ProbeResult{
			Format:       probe.FormatInfo{Duration: 60},
			AudioStreams: []probe.AudioStream{{Codec: "nellymoser", Duration: 60}},
		}, nil
	}
	return nil, errors.New("No such file or directory")
}

func touch(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// recording creates an extracted recording directory with two screen
// segments and one camera segment.
func recording(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	touch(t, dir, "screenshare_1_0.flv", "flv")
	touch(t, dir, "screenshare_1_1.flv", "flv")
	touch(t, dir, "cameraVoip_1_0.flv", "flv")
	return dir
}

func testSetup(t *testing.T, sources ...string) (*config.Config, *fakeFFmpeg, *Deps, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sources = sources
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.WorkDir = t.TempDir()

	ff := &fakeFFmpeg{}
	deps := &Deps{
		Runner:    ff,
		Inspector: nameInspector{},
		Hardware:  hardware.Static{Classes: hardware.NewClasses()},
		Fetcher:   connect.NewFetcher(&cfg, nil),
		Selection: encoder.NewSelection(),
		Out:       io.Discard,
	}
	return &cfg, ff, deps, &bytes.Buffer{}
}

func assertWorkspacesRemoved(t *testing.T, workDir string) {
	t.Helper()
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "leftover in work dir")
}

func TestRun_ParallelJobsShareOneProbe(t *testing.T) {
	src := t.TempDir()
	a := recording(t, src, "lecture-a")
	b := recording(t, src, "lecture-b")
	cfg, ff, deps, buf := testSetup(t, a, b)
	cfg.Jobs = 2

	stats, err := Run(context.Background(), cfg, logging.NewWriterLogger(buf, true), deps)
	require.NoError(t, err, buf.String())
	assert.Equal(t, 2, stats.Encoded)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, ff.count(isTrial), "one trial encode per run")
	for _, name := range []string{"recording_lecture-a.mp4", "recording_lecture-b.mp4"} {
		assert.FileExists(t, filepath.Join(cfg.OutputDir, name))
	}
	assert.Equal(t, 120.0, stats.OutputSeconds)
	assertWorkspacesRemoved(t, cfg.WorkDir)
	assert.Contains(t, buf.String(), "Selected encoder: libx264")
	assert.NotContains(t, buf.String(), "Software fallback")
}

func TestRun_NoUsableEncoderStopsBatch(t *testing.T) {
	src := t.TempDir()
	cfg, ff, deps, buf := testSetup(t, recording(t, src, "a"))
	ff.failTrial = true

	stats, err := Run(context.Background(), cfg, logging.NewWriterLogger(buf, false), deps)
	var none *encoder.NoUsableEncoderError
	require.ErrorAs(t, err, &none)
	assert.Len(t, none.Results, len(encoder.Catalog()), "one verdict per candidate")
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, ff.count(isEncode), "no final encode may run without an encoder")
	assert.Contains(t, buf.String(), "No usable H.264 encoder")
	assertWorkspacesRemoved(t, cfg.WorkDir)
}

func TestRun_SkipExisting(t *testing.T) {
	src := t.TempDir()
	cfg, ff, deps, buf := testSetup(t, recording(t, src, "done"))
	touch(t, cfg.OutputDir, "recording_done.mp4", "old")

	stats, err := Run(context.Background(), cfg, logging.NewWriterLogger(buf, false), deps)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Encoded)
	assert.Zero(t, ff.count(func([]string) bool { return true }), "ffmpeg ran for a skipped job")
}

func TestRun_MergeFailureDoesNotStopSiblings(t *testing.T) {
	src := t.TempDir()
	bad := filepath.Join(src, "bad")
	touch(t, bad, "screenshare_1_0.flv", "flv")
	touch(t, bad, "screenshare_1_1.flv", "corrupt")
	good := recording(t, src, "good")
	cfg, _, deps, buf := testSetup(t, bad, good)

	stats, err := Run(context.Background(), cfg, logging.NewWriterLogger(buf, false), deps)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Encoded)
	assert.Equal(t, 1, stats.Failed)
	log := buf.String()
	assert.Contains(t, log, "[merge]", "failure should name the stage")
	assert.Contains(t, log, "screenshare_1_1.flv", "failure should name the segment")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "recording_good.mp4"), "sibling output")
	assertWorkspacesRemoved(t, cfg.WorkDir)
}

func TestRun_DryRun(t *testing.T) {
	src := t.TempDir()
	cfg, ff, deps, buf := testSetup(t, recording(t, src, "dry"))
	cfg.DryRun = true

	stats, err := Run(context.Background(), cfg, logging.NewWriterLogger(buf, false), deps)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Encoded)
	assert.Zero(t, ff.count(isEncode), "dry run must not encode")
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "recording_dry.mp4"))
	assert.Contains(t, buf.String(), "[DRY]")
}

func TestRun_EncodeUsesTrialRenderNode(t *testing.T) {
	src := t.TempDir()
	cfg, ff, deps, buf := testSetup(t, recording(t, src, "gpu"))
	cfg.EncoderChoice = "vaapi"
	cfg.VaapiDevice = ""
	deps.Hardware = hardware.Static{Classes: hardware.Classes{
		Present:      map[hardware.Class]string{hardware.ClassVAAPI: "/dev/dri/renderD129"},
		VaapiDevices: []string{"/dev/dri/renderD129"},
	}}

	stats, err := Run(context.Background(), cfg, logging.NewWriterLogger(buf, false), deps)
	require.NoError(t, err, buf.String())
	require.Equal(t, 1, stats.Encoded, buf.String())

	trials := ff.matching(isTrial)
	encodes := ff.matching(isEncode)
	require.Len(t, trials, 1)
	require.Len(t, encodes, 1)
	assert.Equal(t, "/dev/dri/renderD129", argValue(trials[0], "-vaapi_device"))
	assert.Equal(t, argValue(trials[0], "-vaapi_device"), argValue(encodes[0], "-vaapi_device"),
		"final encode must target the render node the trial validated")
}

func TestRun_WarnsWhenSoftwareFallbackExcluded(t *testing.T) {
	cases := []struct {
		name    string
		choice  string
		exclude []string
		warn    bool
	}{
		{name: "auto", choice: config.EncoderAuto},
		{name: "forced hardware", choice: "nvenc", warn: true},
		{name: "x264 excluded", choice: config.EncoderAuto, exclude: []string{"x264"}, warn: true},
		{name: "forced software", choice: "x264"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := t.TempDir()
			cfg, _, deps, buf := testSetup(t, recording(t, src, "a"))
			cfg.EncoderChoice = tc.choice
			cfg.ExcludeEncoders = tc.exclude
			cfg.DryRun = true

			_, _ = Run(context.Background(), cfg, logging.NewWriterLogger(buf, false), deps)
			if tc.warn {
				assert.Contains(t, buf.String(), "Software fallback (x264) excluded")
			} else {
				assert.NotContains(t, buf.String(), "Software fallback")
			}
		})
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	src := t.TempDir()
	cfg, ff, deps, buf := testSetup(t, recording(t, src, "a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg, logging.NewWriterLogger(buf, false), deps)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ff.count(isTrial), "no trial should run after cancellation")
}

func TestAnalyze_PrintsSegmentTable(t *testing.T) {
	src := t.TempDir()
	cfg, _, deps, buf := testSetup(t, recording(t, src, "a"))
	var out bytes.Buffer
	deps.Out = &out

	require.NoError(t, Analyze(context.Background(), cfg, logging.NewWriterLogger(buf, false), deps))
	table := out.String()
	for _, want := range []string{"screenshare_1_0.flv", "screenshare_1_1.flv", "cameraVoip_1_0.flv", "1280x720", "nellymoser"} {
		assert.Contains(t, table, want)
	}
	assertWorkspacesRemoved(t, cfg.WorkDir)
}

// --- Outlier statistics ---

func TestComputeStats_FlagsOutliers(t *testing.T) {
	b := computeStats([]float64{100, 110, 105, 95, 102, 98, 1000})
	require.True(t, b.valid)
	assert.Equal(t, "extreme", b.classify(1000))
	assert.Empty(t, b.classify(101))
	assert.False(t, computeStats([]float64{1, 2, 3}).valid, "fewer than 4 values must not produce bounds")
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	assert.Equal(t, 25.0, percentile(sorted, 50))
	assert.Equal(t, 10.0, percentile(sorted, 0))
}

// --- Integration ---

func TestRun_Integration(t *testing.T) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not on PATH", bin)
		}
	}
	if out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").Output(); err != nil || !strings.Contains(string(out), "libx264") {
		t.Skip("ffmpeg lacks libx264")
	}

	dir := filepath.Join(t.TempDir(), "lavfi")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	gen := [][]string{
		{"-f", "lavfi", "-i", "testsrc=duration=3:size=320x240:rate=15", "-c:v", "flv1", filepath.Join(dir, "screenshare_1_0.flv")},
		{"-f", "lavfi", "-i", "testsrc=duration=2:size=320x240:rate=15", "-c:v", "flv1", filepath.Join(dir, "screenshare_1_1.flv")},
		{"-f", "lavfi", "-i", "sine=duration=5", "-c:a", "aac", filepath.Join(dir, "cameraVoip_1_0.flv")},
	}
	for _, args := range gen {
		cmd := exec.Command("ffmpeg", append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)...)
		if b, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("cannot generate test media: %v: %s", err, b)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Sources = []string{dir}
	cfg.OutputDir = t.TempDir()
	cfg.WorkDir = t.TempDir()
	cfg.EncoderChoice = "x264"
	cfg.Quality = config.QualityFast

	var buf bytes.Buffer
	log := logging.NewWriterLogger(&buf, true)
	deps := NewDeps(&cfg, log)
	deps.Out, deps.Progress = io.Discard, nil

	stats, err := Run(context.Background(), &cfg, log, deps)
	require.NoError(t, err, buf.String())
	require.Equal(t, 1, stats.Encoded, buf.String())
	assert.InDelta(t, 5.0, stats.OutputSeconds, 0.6, "output duration")
	assertWorkspacesRemoved(t, cfg.WorkDir)
}
