package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/connect"
	"github.com/backmassage/sessionmux/internal/display"
	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/hardware"
	"github.com/backmassage/sessionmux/internal/logging"
	"github.com/backmassage/sessionmux/internal/metrics"
	"github.com/backmassage/sessionmux/internal/naming"
	"github.com/backmassage/sessionmux/internal/probe"
	"github.com/backmassage/sessionmux/internal/render"
	"github.com/backmassage/sessionmux/internal/stream"
	"github.com/backmassage/sessionmux/internal/term"
)

// Deps are the collaborators a run uses. Tests substitute fakes.
type Deps struct {
	Runner    ffmpeg.Runner
	Inspector probe.Inspector
	Hardware  hardware.Detector
	Fetcher   *connect.Fetcher
	Selection *encoder.Selection // Shared by every job of the run.
	Out       io.Writer          // Tables; default os.Stdout.
	Progress  io.Writer          // Live download/ffmpeg progress; nil disables.
}

// NewDeps wires the production collaborators. Live progress is only drawn
// for a sequential run on a terminal.
func NewDeps(cfg *config.Config, log *logging.Logger) *Deps {
	r := &loggingRunner{next: ffmpeg.NewExecRunner(), log: log}

	var progress io.Writer
	if cfg.Jobs == 1 && term.IsTerminal(os.Stdout) {
		progress = os.Stdout
	}
	fetcher := connect.NewFetcher(cfg, progress)
	fetcher.Downloader.OnRetry = connect.RetryLogger(log.Warn)

	return &Deps{
		Runner:    r,
		Inspector: probe.NewProber(r, cfg.FFprobeBin),
		Hardware:  hardware.NewSystem(r),
		Fetcher:   fetcher,
		Selection: encoder.NewSelection(),
		Out:       os.Stdout,
		Progress:  progress,
	}
}

// loggingRunner echoes every command line at DEBUG level.
type loggingRunner struct {
	next ffmpeg.Runner
	log  *logging.Logger
}

func (l *loggingRunner) Run(ctx context.Context, c ffmpeg.Command) ffmpeg.ExecResult {
	l.log.Debug(l.log.Verbose(), "$ %s", c)
	return l.next.Run(ctx, c)
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeEncoded
	outcomeSkipped
)

type runner struct {
	cfg        *config.Config
	log        *logging.Logger
	deps       *Deps
	candidates []encoder.Candidate
	claims     *naming.Claims
	total      int
	stats      tally
	noEncoder  sync.Once
}

// Run is the top-level batch entry point. Jobs run through a bounded
// errgroup (cfg.Jobs at a time); a failed job is logged and counted without
// stopping its siblings. The only error that stops the batch is finding no
// usable encoder, which is returned together with the stats.
func Run(ctx context.Context, cfg *config.Config, log *logging.Logger, deps *Deps) (RunStats, error) {
	start := time.Now()

	entries, err := Entries(cfg)
	if err != nil {
		return RunStats{}, err
	}
	candidates, err := encoder.Candidates(cfg.EncoderChoice, cfg.ExcludeEncoders)
	if err != nil {
		return RunStats{}, err
	}
	if deps.Selection == nil {
		deps.Selection = encoder.NewSelection()
	}

	r := &runner{
		cfg:        cfg,
		log:        log,
		deps:       deps,
		candidates: candidates,
		claims:     naming.NewClaims(),
		total:      len(entries),
	}
	r.stats.s.Total = len(entries)
	logBatchHeader(cfg, log, len(entries), candidates)

	jobs := cfg.Jobs
	if jobs < 1 {
		jobs = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, e := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error { return r.job(gctx, i+1, e) })
	}
	err = g.Wait()

	stats := r.stats.snapshot()
	stats.Elapsed = time.Since(start)
	if err == nil && ctx.Err() != nil {
		log.Warn("Interrupted")
		err = ctx.Err()
	}
	logSummary(cfg, log, stats)
	return stats, err
}

// job runs one entry and accounts for its outcome. It returns an error only
// to stop the whole batch.
func (r *runner) job(ctx context.Context, n int, e Entry) error {
	if ctx.Err() != nil {
		// Queued behind a job that stopped the batch; reported as not started.
		return nil
	}
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	r.log.Info("[%d/%d] %s", n, r.total, e.Source)
	oc, err := r.process(ctx, e)

	switch oc {
	case outcomeEncoded:
		r.stats.add(func(s *RunStats) { s.Encoded++ })
		metrics.ObserveJob("ok")
		return nil
	case outcomeSkipped:
		r.stats.add(func(s *RunStats) { s.Skipped++ })
		metrics.ObserveJob("skipped")
		return nil
	}

	r.stats.add(func(s *RunStats) { s.Failed++ })
	metrics.ObserveJob("failed")

	var none *encoder.NoUsableEncoderError
	if errors.As(err, &none) {
		r.noEncoder.Do(func() { logNoEncoder(r.log, none) })
		return err
	}
	var se *StageError
	switch {
	case ctx.Err() != nil:
		r.log.Warn("%s: interrupted", e.Source)
	case errors.As(err, &se):
		logFailure(r.log, se)
	default:
		r.log.Error("%s: %v", e.Source, err)
	}
	return nil
}

// process handles one recording: identify -> fetch -> locate -> merge ->
// select -> encode. The job workspace is removed on every exit path.
func (r *runner) process(ctx context.Context, e Entry) (outcome, error) {
	cfg, log := r.cfg, r.log
	fail := func(stage Stage, err error) (outcome, error) {
		return outcomeFailed, &StageError{Source: e.Source, Stage: stage, Err: err}
	}

	// --- Identify ---
	src, err := r.deps.Fetcher.Identify(ctx, e.Source)
	if err != nil {
		return fail(StageFetch, err)
	}
	if src.Recording.PageErr != nil {
		log.Debug(cfg.Verbose, "  Meeting page lookup failed (%v); using ID from the URL", src.Recording.PageErr)
	}
	log.Debug(cfg.Verbose, "  Recording ID: %s (%s)", src.ID, src.Kind)

	// --- Output path and skip-existing check ---
	out := r.claims.Claim(e.Source, naming.OutputPath(cfg.OutputDir, naming.SafeFilename(src.ID), e.Name))
	if cfg.SkipExisting {
		if _, err := os.Stat(out); err == nil {
			log.Warn("Skip (exists): %s", out)
			return outcomeSkipped, nil
		}
	}

	// --- Workspace ---
	ws := filepath.Join(cfg.WorkDir, "sessionmux-job-"+uuid.NewString())
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return fail(StageFetch, err)
	}
	defer func() {
		if err := os.RemoveAll(ws); err != nil {
			log.Warn("Cannot remove workspace %s: %v", ws, err)
		}
	}()

	// --- Fetch ---
	fetched, err := r.deps.Fetcher.Fetch(ctx, src, ws)
	if err != nil {
		return fail(StageFetch, err)
	}
	if fetched.Bytes > 0 {
		log.Info("  Downloaded %s", display.FormatBytes(fetched.Bytes))
		r.stats.add(func(s *RunStats) { s.DownloadedBytes += fetched.Bytes })
		metrics.DownloadBytesTotal.Add(float64(fetched.Bytes))
	}

	// --- Locate ---
	ch, err := stream.Locate(fetched.Root, cfg.RequireCamera)
	if err != nil {
		return fail(StageLocate, err)
	}
	log.Info("  Segments: %d screen, %d camera", len(ch.Screen), len(ch.Camera))
	if len(ch.Camera) == 0 {
		log.Warn("  No camera channel; audio will come from the screen channel")
	}

	// --- Merge ---
	merger := &stream.Merger{
		Runner:    r.deps.Runner,
		Inspector: r.deps.Inspector,
		FFmpegBin: cfg.FFmpegBin,
		Timeout:   cfg.MergeTimeout,
		Options:   ffmpeg.Options{Verbose: cfg.Verbose},
	}
	screen, err := r.merge(ctx, merger, stream.ChannelScreen, ch.Screen, ws)
	if err != nil {
		return fail(StageMerge, err)
	}
	defer screen.Release()
	var camera *stream.LogicalStream
	if len(ch.Camera) > 0 {
		if camera, err = r.merge(ctx, merger, stream.ChannelCamera, ch.Camera, ws); err != nil {
			return fail(StageMerge, err)
		}
		defer camera.Release()
	}

	// --- Select ---
	cand, device, err := r.selectEncoder(ctx, screen, ws)
	if err != nil {
		var none *encoder.NoUsableEncoderError
		if errors.As(err, &none) {
			return outcomeFailed, err
		}
		return fail(StageSelect, err)
	}

	// --- Dry-run ---
	if cfg.DryRun {
		log.Success("[DRY] Would encode with %s at %s quality -> %s", cand, cfg.Quality, out)
		return outcomeEncoded, nil
	}

	// --- Encode ---
	enc := render.NewEncoder(cfg, r.deps.Runner, r.deps.Inspector)
	if cfg.ShowFfmpegFPS {
		enc.Progress = r.deps.Progress
	}
	log.Render("Encoding with %s at %s quality -> %s", cand, cfg.Quality, filepath.Base(out))
	start := time.Now()
	res, err := enc.Encode(ctx, render.EncodeJob{
		Screen:     screen,
		Camera:     camera,
		Candidate:  cand,
		Device:     device,
		Tier:       cfg.Quality,
		OutputPath: out,
	})
	metrics.ObserveEncode(cand.ID, string(cfg.Quality), err == nil, time.Since(start))
	if err != nil {
		return fail(StageEncode, err)
	}

	for _, n := range res.Plan.Notes {
		log.Debug(cfg.Verbose, "  %s", n)
	}
	for _, w := range res.Warnings {
		log.Warn("  %s", w)
	}
	log.Success("Saved %s (%s, %s) in %s", out,
		display.FormatSeconds(res.Duration), display.FormatBytes(res.Size), display.FormatDuration(res.Elapsed))
	r.stats.add(func(s *RunStats) {
		s.OutputBytes += res.Size
		s.OutputSeconds += res.Duration
	})
	return outcomeEncoded, nil
}

func (r *runner) merge(ctx context.Context, m *stream.Merger, ch stream.Channel, segs []stream.MediaSegment, ws string) (*stream.LogicalStream, error) {
	ls, err := m.Merge(ctx, ch, segs, ws)
	metrics.ObserveMerge(string(ch), err == nil)
	if err != nil {
		return nil, err
	}
	for _, w := range ls.Warnings {
		r.log.Warn("  %s drift: %s", ch, w)
	}
	r.log.Debug(r.cfg.Verbose, "  %s: %d segment(s), %s", ch, ls.Segments, display.FormatSeconds(ls.Duration))
	return ls, nil
}

// --- Logging helpers ---

func logBatchHeader(cfg *config.Config, log *logging.Logger, total int, candidates []encoder.Candidate) {
	log.Info("Found %d recording(s)", total)
	log.Info("Quality: %s (AAC %s, %d Hz)", cfg.Quality, encoder.AudioBitrate(cfg.Quality), cfg.AudioSampleRate)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	if strings.EqualFold(strings.TrimSpace(cfg.EncoderChoice), config.EncoderAuto) {
		log.Info("Encoder: auto (probe order: %s)", strings.Join(ids, ", "))
	} else {
		log.Info("Encoder: %s (forced)", strings.Join(ids, ", "))
	}
	if !encoder.HasSoftware(candidates) {
		log.Warn("Software fallback (x264) excluded; the batch stops if no listed hardware encoder works")
	}
	log.Info("Camera layout: %s", cfg.CameraLayout)
	log.Info("Output: %s", cfg.OutputDir)
	if cfg.Jobs > 1 {
		log.Info("Parallel jobs: %d", cfg.Jobs)
	}
	if cfg.DryRun {
		log.Info("Dry run: nothing will be encoded")
	}
	if !cfg.SkipExisting {
		log.Info("Existing outputs will be overwritten")
	}
}

func logSummary(cfg *config.Config, log *logging.Logger, stats RunStats) {
	log.Info("==============================")
	log.Info("Done: %d encoded, %d skipped, %d failed", stats.Encoded, stats.Skipped, stats.Failed)
	if rest := stats.Total - stats.Encoded - stats.Skipped - stats.Failed; rest > 0 {
		log.Warn("  Not started: %d", rest)
	}
	if stats.DownloadedBytes > 0 {
		log.Info("  Downloaded: %s", display.FormatBytes(stats.DownloadedBytes))
	}
	if cfg.DryRun {
		log.Info("  Output: n/a (dry run)")
	} else if stats.OutputBytes > 0 {
		log.Success("  Output: %s, %s of video",
			display.FormatBytes(stats.OutputBytes), display.FormatSeconds(stats.OutputSeconds))
	}
	log.Info("  Elapsed: %s", display.FormatDuration(stats.Elapsed))
}
