package encoder

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/hardware"
	"github.com/backmassage/sessionmux/internal/probe"
)

// Stage names the step at which a candidate's probe concluded.
type Stage string

const (
	StageHardware Stage = "hardware" // Hardware class not present.
	StageBuild    Stage = "build"    // Codec not compiled into ffmpeg.
	StageTrial    Stage = "trial"    // Trial encode ran (pass or fail).
	StageVerify   Stage = "verify"   // Trial exited 0 but the output was rejected.
)

// ProbeResult is the verdict for one candidate.
type ProbeResult struct {
	Candidate Candidate
	Usable    bool
	Stage     Stage
	Reason    string // Empty when Usable.
	Elapsed   time.Duration
	Stderr    string // Tail of the trial's stderr when it failed.
	Device    string // Render node the trial ran on; VAAPI only.
}

// Prober decides which candidates can actually encode on this host by
// running a short trial encode with each one.
type Prober struct {
	Runner    ffmpeg.Runner
	Inspector probe.Inspector
	Hardware  hardware.Detector

	FFmpegBin     string
	WorkDir       string        // Trial outputs are written and removed here.
	TrialSeconds  float64       // Default 2.
	Timeout       time.Duration // Per trial; default 45s.
	FrameRate     int           // Default 30.
	VaapiDevice   string        // Empty: first detected render node.
	InputDecoder  string        // Optional forced decoder for the sample.
	FFmpegOptions ffmpeg.Options

	encodersOnce sync.Once
	encoders     map[string]bool // nil when the list could not be read.
}

// NewProber returns a Prober configured from cfg.
func NewProber(cfg *config.Config, r ffmpeg.Runner, insp probe.Inspector, hw hardware.Detector) *Prober {
	return &Prober{
		Runner:       r,
		Inspector:    insp,
		Hardware:     hw,
		FFmpegBin:    cfg.FFmpegBin,
		WorkDir:      cfg.WorkDir,
		TrialSeconds: cfg.ProbeSeconds,
		Timeout:      cfg.ProbeTimeout,
		FrameRate:    cfg.FrameRate,
		VaapiDevice:  cfg.VaapiDevice,
		InputDecoder: cfg.ScreenDecoder,
	}
}

// Probe returns one verdict per candidate, in input order. A failing
// candidate never prevents the rest from being probed. Only ctx
// cancellation cuts the run short; remaining candidates are then reported
// unusable with the context error as reason.
func (p *Prober) Probe(ctx context.Context, candidates []Candidate, sample string) []ProbeResult {
	p.defaults()
	results := make([]ProbeResult, 0, len(candidates))

	classes, err := p.Hardware.Detect(ctx)
	if err != nil {
		classes = hardware.Classes{}
	}
	expected := p.expectedSeconds(ctx, sample)
	device := p.VaapiDevice
	if device == "" {
		device = classes.DefaultVaapiDevice()
	}
	if device == "" {
		device = DefaultVaapiDevice
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			results = append(results, ProbeResult{Candidate: c, Stage: StageTrial, Reason: ctx.Err().Error()})
			continue
		}
		if !classes.Has(c.Class) {
			results = append(results, ProbeResult{
				Candidate: c,
				Stage:     StageHardware,
				Reason:    fmt.Sprintf("no %s hardware detected", c.Class),
			})
			continue
		}
		if !p.compiledIn(ctx, c.Codec) {
			results = append(results, ProbeResult{
				Candidate: c,
				Stage:     StageBuild,
				Reason:    string(ffmpeg.ReasonEncoderMissing),
			})
			continue
		}
		results = append(results, p.trial(ctx, c, sample, device, expected))
	}
	return results
}

func (p *Prober) defaults() {
	if p.FFmpegBin == "" {
		p.FFmpegBin = "ffmpeg"
	}
	if p.TrialSeconds <= 0 {
		p.TrialSeconds = 2
	}
	if p.Timeout <= 0 {
		p.Timeout = 45 * time.Second
	}
	if p.FrameRate <= 0 {
		p.FrameRate = 30
	}
	if p.WorkDir == "" {
		p.WorkDir = os.TempDir()
	}
}

// expectedSeconds is min(sample duration, TrialSeconds); TrialSeconds when
// the sample cannot be inspected.
func (p *Prober) expectedSeconds(ctx context.Context, sample string) float64 {
	pr, err := p.Inspector.Probe(ctx, sample)
	if err != nil {
		return p.TrialSeconds
	}
	if d := pr.Duration(); d > 0 && d < p.TrialSeconds {
		return d
	}
	return p.TrialSeconds
}

// DurationTolerance is the accepted deviation of a trial's output duration
// from expected: 25 %, but never less than half a second.
func DurationTolerance(expected float64) float64 {
	return math.Max(0.5, 0.25*expected)
}

func (p *Prober) trial(ctx context.Context, c Candidate, sample, device string, expected float64) ProbeResult {
	out := filepath.Join(p.WorkDir, fmt.Sprintf(".trial-%s-%s.mp4", c.ID, uuid.NewString()[:8]))
	defer os.Remove(out)

	res := p.Runner.Run(ctx, ffmpeg.Command{
		Name:    p.FFmpegBin,
		Args:    p.trialArgs(c, sample, device, out),
		Timeout: p.Timeout,
	})
	r := ProbeResult{Candidate: c, Stage: StageTrial, Elapsed: res.Elapsed}
	if c.Class == hardware.ClassVAAPI {
		r.Device = device
	}
	if !res.OK() {
		r.Reason = string(ffmpeg.ClassifyResult(res))
		if res.ExitCode > 0 {
			r.Reason += fmt.Sprintf(" (exit %d)", res.ExitCode)
		}
		r.Stderr = strings.Join(ffmpeg.TailLines(res.Stderr, 20), "\n")
		return r
	}

	r.Stage = StageVerify
	fi, err := os.Stat(out)
	if err != nil || fi.Size() == 0 {
		r.Reason = "trial produced no output"
		return r
	}
	pr, err := p.Inspector.Probe(ctx, out)
	if err != nil {
		r.Reason = "trial output unreadable: " + err.Error()
		return r
	}
	got := pr.Duration()
	if math.Abs(got-expected) > DurationTolerance(expected) {
		r.Reason = fmt.Sprintf("trial duration %.2fs, expected %.2fs", got, expected)
		return r
	}

	r.Stage = StageTrial
	r.Usable = true
	return r
}

// trialArgs mirrors the production encode: same normalization and upload
// chain, same codec arguments at the medium tier, video only.
func (p *Prober) trialArgs(c Candidate, sample, device, out string) []string {
	args := ffmpeg.Preamble(p.FFmpegOptions)
	args = append(args, c.InputArgs(device)...)
	if p.InputDecoder != "" {
		args = append(args, "-c:v", p.InputDecoder)
	}
	args = append(args,
		"-i", sample,
		"-t", ffmpeg.Seconds(p.TrialSeconds),
		"-map", "0:v:0",
		"-vf", VideoChain(p.FrameRate, c),
	)
	args = append(args, c.VideoArgs(config.QualityMedium)...)
	args = append(args, "-an", "-movflags", "+faststart", out)
	return args
}

// compiledIn reports whether codec appears in `ffmpeg -encoders`. The list
// is read once per Prober; when it cannot be read every codec is assumed
// present and the trial decides.
func (p *Prober) compiledIn(ctx context.Context, codec string) bool {
	p.encodersOnce.Do(func() {
		res := p.Runner.Run(ctx, ffmpeg.Command{
			Name:    p.FFmpegBin,
			Args:    []string{"-hide_banner", "-encoders"},
			Timeout: 15 * time.Second,
		})
		if res.OK() {
			p.encoders = ParseEncoderList(string(res.Stdout))
		}
	})
	if p.encoders == nil {
		return true
	}
	return p.encoders[codec]
}

// ParseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D libx264   libx264 H.264 / AVC ...".
func ParseEncoderList(out string) map[string]bool {
	names := make(map[string]bool)
	inList := false
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !inList {
			inList = strings.HasPrefix(fields[0], "---")
			continue
		}
		if len(fields) >= 2 && len(fields[0]) == 6 && strings.ContainsAny(fields[0][:1], "VAS") {
			names[fields[1]] = true
		}
	}
	return names
}
