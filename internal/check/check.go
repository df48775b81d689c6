// Package check provides system diagnostics (--check mode) and pre-pipeline
// dependency validation (CheckDeps) for ffmpeg, ffprobe, the H.264 encoder
// candidates and AAC.
package check

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/hardware"
	"github.com/backmassage/sessionmux/internal/probe"
)

// Sentinel errors returned by CheckDeps when a required tool is missing.
var (
	ErrFfmpegNotFound  = errors.New("ffmpeg not found on PATH")
	ErrFfprobeNotFound = errors.New("ffprobe not found on PATH")
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Logger is the minimal logging interface needed by RunCheck.
// Defined here (rather than importing the logging package) so that check
// remains dependency-light and testable with a mock logger.
type Logger interface {
	Info(string, ...interface{})
	Success(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
	Debug(bool, string, ...interface{})
}

// Env is what RunCheck drives.
type Env struct {
	Runner    ffmpeg.Runner
	Inspector probe.Inspector
	Hardware  hardware.Detector
}

// RunCheck runs the --check flow: ffmpeg version, compiled-in H.264
// encoders, detected hardware, AAC, and a full probe of every encoder
// candidate against a generated sample. Each step is reported and the flow
// continues past failures; the returned error is the selection outcome, so
// a host with no usable encoder fails the check.
func RunCheck(ctx context.Context, cfg *config.Config, log Logger, env Env) error {
	log.Info("=== System Check ===")
	log.Info("Host: %s", hardware.HostSummary(ctx))

	checkFfmpeg(ctx, cfg, log, env.Runner)
	checkH264Encoders(ctx, cfg, log, env.Runner)
	checkHardware(ctx, log, env.Hardware)
	checkAAC(ctx, cfg, log, env.Runner)
	return checkCandidates(ctx, cfg, log, env)
}

// checkFfmpeg logs the first line of `ffmpeg -version`.
func checkFfmpeg(ctx context.Context, cfg *config.Config, log Logger, r ffmpeg.Runner) {
	res := r.Run(ctx, ffmpeg.Command{Name: cfg.FFmpegBin, Args: []string{"-version"}, Timeout: 15 * time.Second})
	if !res.OK() {
		log.Error("ffmpeg -version failed: %v", res.Err)
		return
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(res.Stdout)), "\n")
	log.Success("ffmpeg: %s", strings.TrimSpace(first))
}

// checkH264Encoders reports which candidate codecs ffmpeg was built with.
func checkH264Encoders(ctx context.Context, cfg *config.Config, log Logger, r ffmpeg.Runner) {
	log.Info("H.264 encoders:")
	res := r.Run(ctx, ffmpeg.Command{Name: cfg.FFmpegBin, Args: []string{"-hide_banner", "-encoders"}, Timeout: 15 * time.Second})
	if !res.OK() {
		log.Warn("Could not list encoders: %v", res.Err)
		return
	}
	present := encoder.ParseEncoderList(string(res.Stdout))
	for _, c := range encoder.Catalog() {
		if present[c.Codec] {
			log.Success("  %-18s compiled in", c.Codec)
		} else {
			log.Warn("  %-18s not compiled in", c.Codec)
		}
	}
}

// checkHardware lists the detected encoder classes with their evidence.
func checkHardware(ctx context.Context, log Logger, hw hardware.Detector) {
	classes, err := hw.Detect(ctx)
	if err != nil {
		log.Warn("Hardware detection incomplete: %v", err)
	}
	if len(classes.Present) == 0 {
		log.Info("Hardware: none detected (software encoding only)")
		return
	}
	log.Info("Hardware: %s", classes)
	for _, cl := range classes.List() {
		log.Info("  %-12s %s", cl, classes.Present[cl])
	}
	for _, dev := range classes.VaapiDevices {
		log.Info("  render node %s", dev)
	}
}

// checkAAC runs a minimal AAC encode to verify the audio encoder works.
func checkAAC(ctx context.Context, cfg *config.Config, log Logger, r ffmpeg.Runner) {
	log.Info("Testing AAC encoder...")
	args := append(ffmpeg.Preamble(ffmpeg.Options{}),
		"-f", "lavfi", "-i", "sine=frequency=1000:duration=0.1",
		"-c:a", "aac", "-f", "null", "-",
	)
	res := r.Run(ctx, ffmpeg.Command{Name: cfg.FFmpegBin, Args: args, Timeout: 30 * time.Second})
	if res.OK() {
		log.Success("AAC encoder works")
	} else {
		log.Error("AAC encoder test failed: %s", ffmpeg.ClassifyResult(res))
	}
}

// checkCandidates probes the configured candidates against a generated
// clip and prints one verdict per candidate.
func checkCandidates(ctx context.Context, cfg *config.Config, log Logger, env Env) error {
	cands, err := encoder.Candidates(cfg.EncoderChoice, cfg.ExcludeEncoders)
	if err != nil {
		return err
	}
	dir, err := os.MkdirTemp(cfg.WorkDir, "sessionmux-check-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	sample := filepath.Join(dir, "sample.flv")
	args := append(ffmpeg.Preamble(ffmpeg.Options{}),
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%s:size=640x360:rate=%d", ffmpeg.Seconds(cfg.SampleSeconds), cfg.FrameRate),
		"-c:v", "flv1", sample,
	)
	res := env.Runner.Run(ctx, ffmpeg.Command{Name: cfg.FFmpegBin, Args: args, Timeout: time.Minute})
	if !res.OK() {
		log.Error("Cannot generate probe sample: %s", ffmpeg.ClassifyResult(res))
		return ffmpeg.NewToolError("probe sample", res)
	}

	if !encoder.HasSoftware(cands) {
		log.Warn("Software fallback (x264) excluded; no encoder is left if the hardware ones fail")
	}
	log.Info("Probing %d encoder candidate(s)...", len(cands))
	prober := encoder.NewProber(cfg, env.Runner, env.Inspector, env.Hardware)
	prober.WorkDir = dir
	results := prober.Probe(ctx, cands, sample)
	for _, r := range results {
		if r.Usable {
			log.Success("  %-13s usable (%s)", r.Candidate.ID, r.Elapsed.Round(10*time.Millisecond))
			continue
		}
		log.Warn("  %-13s %s: %s", r.Candidate.ID, r.Stage, r.Reason)
		if r.Stderr != "" {
			log.Debug(cfg.Verbose, "%s", r.Stderr)
		}
	}

	cand, err := encoder.Select(results, cfg.ExcludeEncoders...)
	if err != nil {
		log.Error("No usable H.264 encoder on this host")
		return err
	}
	log.Success("Would encode with %s", cand)
	return nil
}

// CheckDeps is the pre-pipeline validation: it verifies that the ffmpeg
// and ffprobe binaries can be found. Whether an encoder actually works is
// decided later by the probe. Returns a sentinel error on failure.
func CheckDeps(cfg *config.Config) error {
	if _, err := lookPath(cfg.FFmpegBin); err != nil {
		return ErrFfmpegNotFound
	}
	if _, err := lookPath(cfg.FFprobeBin); err != nil {
		return ErrFfprobeNotFound
	}
	return nil
}
