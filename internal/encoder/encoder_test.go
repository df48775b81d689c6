package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/hardware"
	"github.com/backmassage/sessionmux/internal/probe"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V..... h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 V..... h264_qsv             H.264 / AVC (Intel Quick Sync Video acceleration) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestCatalogOrder(t *testing.T) {
	assert.Equal(t, []string{"nvenc", "qsv", "amf", "vaapi", "videotoolbox", "x264"}, IDs())
	for i, c := range Catalog() {
		assert.Equal(t, i, c.Rank)
	}
	assert.False(t, Software().Hardware())
	assert.Equal(t, "libx264", Software().Codec)
}

func TestQualityTableMonotonic(t *testing.T) {
	prev, _ := Quality(config.QualityTiers[0])
	for _, tier := range config.QualityTiers[1:] {
		q, ok := Quality(tier)
		require.True(t, ok, tier)
		assert.Less(t, q.X264CRF, prev.X264CRF, "x264 crf at %s", tier)
		assert.Less(t, q.NVENCCQ, prev.NVENCCQ, "nvenc cq at %s", tier)
		assert.Less(t, q.VAAPIQP, prev.VAAPIQP, "vaapi qp at %s", tier)
		assert.Greater(t, q.VTQuality, prev.VTQuality, "videotoolbox q at %s", tier)
		prev = q
	}
	_, ok := Quality("extreme")
	assert.False(t, ok)
	assert.Equal(t, "192k", AudioBitrate(config.QualityHigh))
}

func TestCandidateArgs(t *testing.T) {
	tests := []struct {
		id   string
		tier config.QualityTier
		want string
	}{
		{"x264", config.QualityMedium, "-c:v libx264 -crf 23 -preset medium"},
		{"nvenc", config.QualityUltra, "-c:v h264_nvenc -rc vbr -cq 19 -b:v 0 -preset p7"},
		{"qsv", config.QualityFast, "-c:v h264_qsv -global_quality 27 -preset veryfast"},
		{"amf", config.QualityHigh, "-c:v h264_amf -rc cqp -qp_i 21 -qp_p 21 -quality quality"},
		{"vaapi", config.QualityMedium, "-c:v h264_vaapi -qp 24"},
		{"videotoolbox", config.QualityFast, "-c:v h264_videotoolbox -q:v 45"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			c, ok := Lookup(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.want, strings.Join(c.VideoArgs(tt.tier), " "))
		})
	}

	vaapi, _ := Lookup("VAAPI")
	assert.Equal(t, []string{"-vaapi_device", DefaultVaapiDevice}, vaapi.InputArgs(""))
	assert.Equal(t, "fps=30,setpts=PTS-STARTPTS,format=nv12,hwupload", VideoChain(30, vaapi))
	assert.Nil(t, Software().InputArgs("/dev/dri/renderD129"))
}

func TestCandidates(t *testing.T) {
	all, err := Candidates(config.EncoderAuto, nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	some, err := Candidates("auto", []string{"nvenc", "AMF"})
	require.NoError(t, err)
	assert.Equal(t, "qsv", some[0].ID)
	assert.Len(t, some, 4)

	forced, err := Candidates("x264", nil)
	require.NoError(t, err)
	require.Len(t, forced, 1)
	assert.Equal(t, "x264", forced[0].ID)

	_, err = Candidates("h265", nil)
	assert.Error(t, err)
	_, err = Candidates("auto", []string{"bogus"})
	assert.Error(t, err)
	_, err = Candidates("x264", []string{"x264"})
	assert.Error(t, err)
	_, err = Candidates("auto", IDs())
	assert.Error(t, err)
}

func TestParseEncoderList(t *testing.T) {
	got := ParseEncoderList(encodersOutput)
	assert.True(t, got["libx264"])
	assert.True(t, got["h264_nvenc"])
	assert.True(t, got["aac"])
	assert.False(t, got["h264_amf"])
	assert.False(t, got["="], "legend lines are not encoders")
}

func TestDurationTolerance(t *testing.T) {
	assert.Equal(t, 0.5, DurationTolerance(1))
	assert.Equal(t, 0.5, DurationTolerance(2))
	assert.Equal(t, 2.5, DurationTolerance(10))
}

// fakeInspector reports a fixed duration for every path it is asked about,
// or an error for paths listed in fail.
type fakeInspector struct {
	duration float64
	fail     map[string]bool
}

func (f fakeInspector) Probe(_ context.Context, path string) (*probe.ProbeResult, error) {
	if f.fail[filepath.Base(path)] {
		return nil, errors.New("unreadable")
	}
	return &probe.ProbeResult{
		Format:       probe.FormatInfo{Duration: f.duration},
		PrimaryVideo: &probe.VideoStream{Codec: "h264", Width: 1280, Height: 720},
	}, nil
}

// trialRunner simulates ffmpeg: -encoders listing, and trial encodes that
// succeed (writing the output file) unless the codec is in fail.
func trialRunner(t *testing.T, fail map[string]string, trials *[]string) ffmpeg.Runner {
	var mu sync.Mutex
	return ffmpeg.RunnerFunc(func(_ context.Context, c ffmpeg.Command) ffmpeg.ExecResult {
		if len(c.Args) == 2 && c.Args[1] == "-encoders" {
			return ffmpeg.ExecResult{Stdout: []byte(encodersOutput)}
		}
		codec := argAfter(c.Args, "-c:v", 1)
		mu.Lock()
		*trials = append(*trials, codec)
		mu.Unlock()
		if msg, ok := fail[codec]; ok {
			return ffmpeg.ExecResult{ExitCode: 1, Err: errors.New("exit status 1"), Stderr: msg}
		}
		out := c.Args[len(c.Args)-1]
		require.NoError(t, os.WriteFile(out, []byte("mp4"), 0o644))
		return ffmpeg.ExecResult{Elapsed: 10 * time.Millisecond}
	})
}

// argAfter returns the value following the n-th (1-based) occurrence of flag.
func argAfter(args []string, flag string, n int) string {
	seen := 0
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			seen++
			if seen == n {
				return args[i+1]
			}
		}
	}
	return ""
}

func newTestProber(t *testing.T, r ffmpeg.Runner, insp probe.Inspector, classes ...hardware.Class) *Prober {
	cfg := config.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	return NewProber(&cfg, r, insp, hardware.Static{Classes: hardware.NewClasses(classes...)})
}

func TestProber_PrechecksAndTrials(t *testing.T) {
	var trials []string
	r := trialRunner(t, map[string]string{
		"h264_nvenc": "[h264_nvenc @ 0x55] Cannot load libcuda.so.1",
	}, &trials)
	p := newTestProber(t, r, fakeInspector{duration: 2.0}, hardware.ClassNVIDIA, hardware.ClassAMD)

	results := p.Probe(context.Background(), Catalog(), "sample.flv")
	require.Len(t, results, 6)

	byID := map[string]ProbeResult{}
	for i, res := range results {
		assert.Equal(t, Catalog()[i].ID, res.Candidate.ID, "input order preserved")
		byID[res.Candidate.ID] = res
	}

	assert.False(t, byID["nvenc"].Usable)
	assert.Equal(t, StageTrial, byID["nvenc"].Stage)
	assert.Contains(t, byID["nvenc"].Reason, string(ffmpeg.ReasonDeviceUnavailable))
	assert.Contains(t, byID["nvenc"].Stderr, "libcuda")

	assert.Equal(t, StageHardware, byID["qsv"].Stage)
	assert.Equal(t, StageBuild, byID["amf"].Stage, "AMD present but h264_amf not compiled in")
	assert.Equal(t, StageHardware, byID["vaapi"].Stage)
	assert.Equal(t, StageHardware, byID["videotoolbox"].Stage)
	assert.True(t, byID["x264"].Usable)

	assert.Equal(t, []string{"h264_nvenc", "libx264"}, trials, "only candidates passing pre-checks get a trial")

	entries, _ := os.ReadDir(p.WorkDir)
	assert.Empty(t, entries, "trial outputs removed")

	c, err := Select(results)
	require.NoError(t, err)
	assert.Equal(t, "x264", c.ID)
}

func TestProber_RejectsWrongDuration(t *testing.T) {
	var trials []string
	p := newTestProber(t, trialRunner(t, nil, &trials), fakeInspector{duration: 0.4})
	p.TrialSeconds = 2

	// Sample reports 0.4s, so expected = 0.4s and the trial (also 0.4s) passes.
	res := p.Probe(context.Background(), []Candidate{Software()}, "sample.flv")
	require.Len(t, res, 1)
	assert.True(t, res[0].Usable)

	// A sample of 10s with trial output of 10s is outside 2s +/- 0.5s.
	p2 := newTestProber(t, trialRunner(t, nil, &trials), fakeInspector{duration: 10})
	res = p2.Probe(context.Background(), []Candidate{Software()}, "sample.flv")
	assert.False(t, res[0].Usable)
	assert.Equal(t, StageVerify, res[0].Stage)
	assert.Contains(t, res[0].Reason, "expected 2.00s")
}

func TestProber_TrialArgsMirrorProduction(t *testing.T) {
	var got []string
	r := ffmpeg.RunnerFunc(func(_ context.Context, c ffmpeg.Command) ffmpeg.ExecResult {
		if c.Args[len(c.Args)-1] == "-encoders" {
			return ffmpeg.ExecResult{Err: errors.New("no list"), ExitCode: 1}
		}
		got = c.Args
		assert.Equal(t, 45*time.Second, c.Timeout)
		return ffmpeg.ExecResult{Err: errors.New("exit status 1"), ExitCode: 1, Stderr: "Failed to initialise VAAPI connection"}
	})
	p := newTestProber(t, r, fakeInspector{duration: 5}, hardware.ClassVAAPI)
	p.VaapiDevice = "/dev/dri/renderD129"
	vaapi, _ := Lookup("vaapi")

	res := p.Probe(context.Background(), []Candidate{vaapi}, "/w/sample.flv")
	require.Len(t, res, 1)
	assert.Contains(t, res[0].Reason, "device or driver unavailable")

	joined := strings.Join(got, " ")
	assert.Contains(t, joined, "-vaapi_device /dev/dri/renderD129 -i /w/sample.flv -t 2.000 -map 0:v:0")
	assert.Contains(t, joined, "-vf fps=30,setpts=PTS-STARTPTS,format=nv12,hwupload -c:v h264_vaapi -qp 24 -an")
}

func TestTrial_RecordsDetectedRenderNode(t *testing.T) {
	var trials []string
	cfg := config.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	hw := hardware.Static{Classes: hardware.Classes{
		Present:      map[hardware.Class]string{hardware.ClassVAAPI: "/dev/dri/renderD129"},
		VaapiDevices: []string{"/dev/dri/renderD129", "/dev/dri/renderD130"},
	}}
	var devices []string
	next := trialRunner(t, nil, &trials)
	r := ffmpeg.RunnerFunc(func(ctx context.Context, c ffmpeg.Command) ffmpeg.ExecResult {
		if d := argAfter(c.Args, "-vaapi_device", 1); d != "" {
			devices = append(devices, d)
		}
		return next.Run(ctx, c)
	})
	p := NewProber(&cfg, r, fakeInspector{duration: 2}, hw)
	p.VaapiDevice = ""

	vaapi, _ := Lookup("vaapi")
	results := p.Probe(context.Background(), []Candidate{vaapi, Software()}, "sample.flv")
	require.Len(t, results, 2)
	assert.True(t, results[0].Usable)
	assert.Equal(t, "/dev/dri/renderD129", results[0].Device)
	assert.Empty(t, results[1].Device, "software trial uses no device")
	assert.Equal(t, []string{"/dev/dri/renderD129"}, devices)

	assert.Equal(t, "/dev/dri/renderD129", DeviceFor(results, "vaapi"))
	assert.Empty(t, DeviceFor(results, "x264"))
	assert.Empty(t, DeviceFor(results, "nvenc"), "no verdict")
}

func TestTrial_FallsBackToDefaultRenderNode(t *testing.T) {
	var trials []string
	p := newTestProber(t, trialRunner(t, nil, &trials), fakeInspector{duration: 2}, hardware.ClassVAAPI)
	p.VaapiDevice = ""
	vaapi, _ := Lookup("vaapi")

	results := p.Probe(context.Background(), []Candidate{vaapi}, "sample.flv")
	require.Len(t, results, 1)
	assert.Equal(t, DefaultVaapiDevice, results[0].Device)
}

func TestCapabilityCheck_RepeatedRunsAgree(t *testing.T) {
	var trials []string
	r := trialRunner(t, map[string]string{
		"h264_nvenc": "[h264_nvenc @ 0x55] No NVENC capable devices found",
	}, &trials)
	p := newTestProber(t, r, fakeInspector{duration: 2.0}, hardware.ClassNVIDIA, hardware.ClassIntel)

	first := p.Probe(context.Background(), Catalog(), "sample.flv")
	second := p.Probe(context.Background(), Catalog(), "sample.flv")
	require.Len(t, second, len(first))

	type verdict struct {
		ID, Reason, Device string
		Usable             bool
		Stage              Stage
	}
	strip := func(rs []ProbeResult) []verdict {
		out := make([]verdict, len(rs))
		for i, r := range rs {
			out[i] = verdict{ID: r.Candidate.ID, Reason: r.Reason, Device: r.Device, Usable: r.Usable, Stage: r.Stage}
		}
		return out
	}
	assert.Equal(t, strip(first), strip(second))

	a, err := Select(first)
	require.NoError(t, err)
	b, err := Select(second)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "qsv", a.ID)

	entries, _ := os.ReadDir(p.WorkDir)
	assert.Empty(t, entries, "no trial outputs left behind by either run")
}

func TestHasSoftware(t *testing.T) {
	all, err := Candidates("auto", nil)
	require.NoError(t, err)
	assert.True(t, HasSoftware(all))

	nv, err := Candidates("nvenc", nil)
	require.NoError(t, err)
	assert.False(t, HasSoftware(nv))

	hw, err := Candidates("auto", []string{"x264"})
	require.NoError(t, err)
	assert.False(t, HasSoftware(hw))
}

func TestSelect(t *testing.T) {
	nvenc, _ := Lookup("nvenc")
	qsv, _ := Lookup("qsv")
	x264 := Software()

	results := []ProbeResult{
		{Candidate: x264, Usable: true},
		{Candidate: qsv, Usable: true},
		{Candidate: nvenc, Usable: false, Reason: "no nvidia hardware detected"},
	}

	c, err := Select(results)
	require.NoError(t, err)
	assert.Equal(t, "qsv", c.ID, "rank wins regardless of input order")

	c, err = Select(results, "qsv")
	require.NoError(t, err)
	assert.Equal(t, "x264", c.ID)

	_, err = Select(results, "qsv", "x264")
	var none *NoUsableEncoderError
	require.ErrorAs(t, err, &none)
	assert.Len(t, none.Results, 3)
	assert.Contains(t, err.Error(), "nvenc: no nvidia hardware detected")

	_, err = Select(nil)
	require.ErrorAs(t, err, &none)
}

func TestSelection_ComputeOnce(t *testing.T) {
	s := NewSelection()
	var calls atomic.Int32
	compute := func(context.Context) (Candidate, []ProbeResult, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return Software(), []ProbeResult{{Candidate: Software(), Usable: true}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.Get(context.Background(), compute)
			assert.NoError(t, err)
			assert.Equal(t, "x264", c.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, s.Done())
	assert.Len(t, s.Results(), 1)
}

func TestSelection_CachesNoUsableButRetriesSampleFailure(t *testing.T) {
	s := NewSelection()

	_, err := s.Get(context.Background(), func(context.Context) (Candidate, []ProbeResult, error) {
		return Candidate{}, nil, errors.New("sample clip failed")
	})
	require.Error(t, err)
	assert.False(t, s.Done())

	noneErr := &NoUsableEncoderError{}
	_, err = s.Get(context.Background(), func(context.Context) (Candidate, []ProbeResult, error) {
		return Candidate{}, nil, noneErr
	})
	require.ErrorIs(t, err, noneErr)
	assert.True(t, s.Done())

	_, err = s.Get(context.Background(), func(context.Context) (Candidate, []ProbeResult, error) {
		t.Fatal("compute must not run again after a final outcome")
		return Candidate{}, nil, nil
	})
	require.ErrorIs(t, err, noneErr)
}

func TestSelection_WaitHonorsContext(t *testing.T) {
	s := NewSelection()
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = s.Get(context.Background(), func(context.Context) (Candidate, []ProbeResult, error) {
			close(started)
			<-release
			return Software(), nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Get(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
