// Command sessionmux downloads web-conference recordings and renders each
// one into a single MP4 with screen video and synchronized voice audio.
//
// It parses flags, validates configuration and paths, and either runs
// system diagnostics (--check), a segment analysis (--analyze) or the
// download/merge/encode pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/backmassage/sessionmux/internal/check"
	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/display"
	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/logging"
	"github.com/backmassage/sessionmux/internal/metrics"
	"github.com/backmassage/sessionmux/internal/pipeline"
)

// version and commit are injected at build time via -ldflags.
var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Bootstrap: the logger doesn't exist yet, so errors go directly to
	// stderr.
	cfg := config.DefaultConfig()
	if err := config.ParseFlags(&cfg, os.Args[1:], version); err != nil {
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, config.ErrVersion) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "sessionmux: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "sessionmux: %v\n", err)
		return 2
	}
	// Unknown encoder IDs are a usage error, caught before anything runs.
	if _, err := encoder.Candidates(cfg.EncoderChoice, cfg.ExcludeEncoders); err != nil {
		fmt.Fprintf(os.Stderr, "sessionmux: %v\n", err)
		return 2
	}

	if !cfg.CheckOnly {
		if err := resolveDirs(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "sessionmux: %v\n", err)
			return 1
		}
	}

	log, err := logging.NewLogger(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessionmux: %v\n", err)
		return 1
	}
	defer log.Close()

	// Logger available: all output goes through log from here on.
	display.PrintBanner(os.Stdout, version)
	log.Debug(cfg.Verbose, "sessionmux %s (%s)", version, commit)

	// Cancel on SIGINT/SIGTERM; running ffmpeg process groups are killed
	// and each job removes its workspace and partial output.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CheckOnly {
		if err := check.CheckDeps(&cfg); err != nil {
			log.Error("%v", err)
			return 1
		}
		deps := pipeline.NewDeps(&cfg, log)
		env := check.Env{Runner: deps.Runner, Inspector: deps.Inspector, Hardware: deps.Hardware}
		if err := check.RunCheck(ctx, &cfg, log, env); err != nil {
			return 1
		}
		return 0
	}

	// Fail fast if ffmpeg/ffprobe are unavailable.
	if err := check.CheckDeps(&cfg); err != nil {
		log.Error("%v", err)
		return 1
	}
	deps := pipeline.NewDeps(&cfg, log)

	if cfg.AnalyzeOnly {
		if err := pipeline.Analyze(ctx, &cfg, log, deps); err != nil {
			return 1
		}
		return 0
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Start(cfg.MetricsAddr)
		if err != nil {
			log.Error("Metrics listener: %v", err)
			return 1
		}
		log.Info("Metrics on http://%s/metrics", srv.Addr())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	stats, err := pipeline.Run(ctx, &cfg, log, deps)
	if err != nil || stats.Failed > 0 {
		return 1
	}
	return 0
}

// resolveDirs creates the output and work directories and checks that the
// work directory does not live inside the output directory.
func resolveDirs(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("cannot create output directory %s: %w", cfg.OutputDir, err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("cannot create work directory %s: %w", cfg.WorkDir, err)
	}
	outputAbs, err := absPath(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("cannot resolve output path %s: %w", cfg.OutputDir, err)
	}
	workAbs, err := absPath(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("cannot resolve work path %s: %w", cfg.WorkDir, err)
	}
	if err := cfg.ValidatePaths(outputAbs, workAbs); err != nil {
		return err
	}
	cfg.OutputDir, cfg.WorkDir = outputAbs, workAbs
	return nil
}

// absPath returns the absolute, symlink-resolved path.
func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
