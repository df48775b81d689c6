package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/metrics"
	"github.com/backmassage/sessionmux/internal/stream"
)

// selectEncoder returns the run's encoder and, for VAAPI, the render node
// its trial ran on, probing on first use. Only the first job to get here
// cuts a sample and probes; the others wait and share its answer.
func (r *runner) selectEncoder(ctx context.Context, screen *stream.LogicalStream, ws string) (encoder.Candidate, string, error) {
	cand, err := r.deps.Selection.Get(ctx, func(ctx context.Context) (encoder.Candidate, []encoder.ProbeResult, error) {
		return r.probeAndSelect(ctx, screen, ws)
	})
	if err != nil {
		return cand, "", err
	}
	return cand, encoder.DeviceFor(r.deps.Selection.Results(), cand.ID), nil
}

func (r *runner) probeAndSelect(ctx context.Context, screen *stream.LogicalStream, ws string) (encoder.Candidate, []encoder.ProbeResult, error) {
	cfg := r.cfg
	sampler := &stream.Sampler{
		Runner:    r.deps.Runner,
		FFmpegBin: cfg.FFmpegBin,
		Seconds:   cfg.SampleSeconds,
		Options:   ffmpeg.Options{Verbose: cfg.Verbose},
	}
	clip, err := sampler.Clip(ctx, screen, ws)
	if err != nil {
		return encoder.Candidate{}, nil, err
	}
	defer os.Remove(clip)

	prober := encoder.NewProber(cfg, r.deps.Runner, r.deps.Inspector, r.deps.Hardware)
	prober.WorkDir = ws
	prober.FFmpegOptions = ffmpeg.Options{Verbose: cfg.Verbose}

	r.log.Info("Probing %d encoder candidate(s)", len(r.candidates))
	results := prober.Probe(ctx, r.candidates, clip)
	if err := ctx.Err(); err != nil {
		// A cancelled probe is not a verdict on the encoders.
		return encoder.Candidate{}, results, err
	}

	for _, res := range results {
		metrics.ObserveProbe(res.Candidate.ID, res.Usable, res.Elapsed)
		if res.Usable {
			r.log.Success("  %-13s usable (%s)", res.Candidate.ID, res.Elapsed.Round(10*time.Millisecond))
			continue
		}
		r.log.Warn("  %-13s %s: %s", res.Candidate.ID, res.Stage, res.Reason)
		if res.Stderr != "" && cfg.Verbose {
			r.log.Tail(res.Candidate.ID, res.Stderr, tailLines)
		}
	}

	cand, err := encoder.Select(results, cfg.ExcludeEncoders...)
	if err == nil {
		r.log.Success("Selected encoder: %s", cand)
		if dev := encoder.DeviceFor(results, cand.ID); dev != "" {
			r.log.Info("  VAAPI device: %s", dev)
		}
	}
	return cand, results, err
}
