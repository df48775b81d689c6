// Package render runs the final encode: it plans the A/V sync graph for a
// job, drives ffmpeg with the selected encoder, verifies the result and
// moves it into place.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/planner"
	"github.com/backmassage/sessionmux/internal/probe"
	"github.com/backmassage/sessionmux/internal/stream"
)

// EncodeJob is one recording ready for its final encode.
type EncodeJob struct {
	Screen     *stream.LogicalStream
	Camera     *stream.LogicalStream // nil when the recording has no camera channel.
	Candidate  encoder.Candidate
	Device     string // VAAPI render node the candidate was validated on; overrides the configured one.
	Tier       config.QualityTier
	OutputPath string
}

// Result describes a finished output file.
type Result struct {
	OutputPath string
	Duration   float64 // Seconds, from ffprobe of the output.
	Size       int64
	Elapsed    time.Duration
	Plan       *planner.SyncPlan
	Warnings   []string
}

// Encoder turns EncodeJobs into verified MP4 files.
type Encoder struct {
	Runner    ffmpeg.Runner
	Inspector probe.Inspector
	Config    *config.Config
	FFmpegBin string
	Timeout   time.Duration // 0 = bounded only by ctx.
	Options   ffmpeg.Options
	Progress  io.Writer // Optional live ffmpeg stats sink.
}

// NewEncoder wires an Encoder from cfg.
func NewEncoder(cfg *config.Config, r ffmpeg.Runner, insp probe.Inspector) *Encoder {
	return &Encoder{
		Runner:    r,
		Inspector: insp,
		Config:    cfg,
		FFmpegBin: cfg.FFmpegBin,
		Timeout:   cfg.EncodeTimeout,
		Options:   ffmpeg.Options{Verbose: cfg.Verbose, Stats: cfg.ShowFfmpegFPS},
	}
}

// Encode plans and runs the final encode for job. Output is written to a
// hidden partial file next to OutputPath and renamed only after it passes
// verification; every failure removes the partial file and returns an
// *EncodeError. There is no automatic retry with another encoder.
func (e *Encoder) Encode(ctx context.Context, job EncodeJob) (*Result, error) {
	start := time.Now()
	fail := func(stage Stage, err error) (*Result, error) {
		return nil, &EncodeError{Candidate: job.Candidate, Tier: job.Tier, Stage: stage, Err: err}
	}

	plan, err := e.Plan(ctx, job)
	if err != nil {
		return fail(StagePlan, err)
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return fail(StageFinalize, err)
	}
	part := PartialPath(job.OutputPath)
	defer os.Remove(part)

	bin := e.FFmpegBin
	if bin == "" {
		bin = "ffmpeg"
	}
	res := e.Runner.Run(ctx, ffmpeg.Command{
		Name:    bin,
		Args:    e.Args(plan, job, part),
		Timeout: e.Timeout,
		Stderr:  e.Progress,
	})
	if !res.OK() {
		return fail(StageEncode, ffmpeg.NewToolError("ffmpeg", res))
	}

	pr, size, err := e.verify(ctx, part)
	if err != nil {
		return fail(StageVerify, err)
	}

	if err := os.Rename(part, job.OutputPath); err != nil {
		return fail(StageFinalize, err)
	}

	r := &Result{
		OutputPath: job.OutputPath,
		Duration:   pr.Duration(),
		Size:       size,
		Elapsed:    time.Since(start),
		Plan:       plan,
	}
	if exp := plan.ExpectedLength; exp > 0 {
		if math.Abs(r.Duration-exp) > encoder.DurationTolerance(exp) {
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("output lasts %.1fs, expected about %.1fs", r.Duration, exp))
		}
	}
	return r, nil
}

// Plan inspects both logical streams and builds the sync plan for job.
func (e *Encoder) Plan(ctx context.Context, job EncodeJob) (*planner.SyncPlan, error) {
	if job.Screen == nil {
		return nil, errors.New("no screen stream")
	}
	screen, err := e.input(ctx, job.Screen)
	if err != nil {
		return nil, err
	}
	var camera *planner.Input
	if job.Camera != nil {
		if camera, err = e.input(ctx, job.Camera); err != nil {
			return nil, err
		}
	}
	return planner.BuildPlan(e.Config, job.Candidate, screen, camera)
}

func (e *Encoder) input(ctx context.Context, ls *stream.LogicalStream) (*planner.Input, error) {
	pr, err := e.Inspector.Probe(ctx, ls.Path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s stream: %w", ls.Channel, err)
	}
	return &planner.Input{Stream: ls, Probe: pr}, nil
}

// Args assembles the ffmpeg command line for plan, writing to out.
func (e *Encoder) Args(plan *planner.SyncPlan, job EncodeJob, out string) []string {
	args := ffmpeg.Preamble(e.Options)
	device := job.Device
	if device == "" {
		device = e.Config.VaapiDevice
	}
	args = append(args, job.Candidate.InputArgs(device)...)
	if plan.ScreenDecoder != "" {
		args = append(args, "-c:v", plan.ScreenDecoder)
	}
	args = append(args, "-i", plan.ScreenPath)
	if plan.CameraInput {
		args = append(args, "-i", plan.CameraPath)
	}

	args = append(args, "-filter_complex", plan.FilterComplex)
	args = append(args, plan.MapArgs()...)
	args = append(args, job.Candidate.VideoArgs(job.Tier)...)

	if plan.AudioSource == planner.AudioNone {
		args = append(args, "-an")
	} else {
		rate := e.Config.AudioSampleRate
		if rate <= 0 {
			rate = 44100
		}
		args = append(args,
			"-c:a", "aac",
			"-b:a", encoder.AudioBitrate(job.Tier),
			"-ar", fmt.Sprint(rate),
		)
	}
	return append(args, "-movflags", "+faststart", "-f", "mp4", out)
}

// verify checks the partial output is non-empty, opens in ffprobe and has
// a positive duration.
func (e *Encoder) verify(ctx context.Context, path string) (*probe.ProbeResult, int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("output missing: %w", err)
	}
	if fi.Size() == 0 {
		return nil, 0, errors.New("output is empty")
	}
	pr, err := e.Inspector.Probe(ctx, path)
	if err != nil {
		return nil, 0, fmt.Errorf("output unreadable: %w", err)
	}
	if pr.Duration() <= 0 {
		return nil, 0, errors.New("output has no duration")
	}
	return pr, fi.Size(), nil
}

// PartialPath returns the hidden in-progress name for out:
// ".<name>.<uuid>.part.mp4" in the same directory.
func PartialPath(out string) string {
	name := strings.TrimSuffix(filepath.Base(out), filepath.Ext(out))
	return filepath.Join(filepath.Dir(out), "."+name+"."+uuid.NewString()+".part.mp4")
}
