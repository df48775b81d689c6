package config

// This file implements CLI flag parsing and help text.
// Flags are grouped into sources, encoding, probing, behavior, display, and utility.
// Negated flags (e.g. --force, --no-color) are applied after Parse so Config defaults hold unless set.
// A --config file is loaded before any flag is defined, so flags always win over the file.

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrVersion is returned by [ParseFlags] after printing the version string.
// Callers treat it (and flag.ErrHelp) as a successful early exit.
var ErrVersion = errors.New("version requested")

// ParseFlags loads an optional --config file into cfg, then parses args
// (without the program name) on top of it. On --help it prints usage and
// returns flag.ErrHelp; on --version it prints and returns [ErrVersion].
func ParseFlags(cfg *Config, args []string, version string) error {
	return parseFlags(cfg, args, version, os.Stdout, os.Stderr)
}

func parseFlags(cfg *Config, args []string, version string, stdout, stderr io.Writer) error {
	if path := findConfigArg(args); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return err
		}
		cfg.ConfigFile = path
	}

	fs := flag.NewFlagSet("sessionmux", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	// Negated/override flags: we capture bools then apply to cfg after Parse,
	// so that defaults from DefaultConfig() (or the config file) hold unless the user passes the flag.
	var negated negatedFlags

	defineSourceFlags(fs, cfg)
	defineEncodingFlags(fs, cfg)
	defineProbeFlags(fs, cfg)
	defineBehaviorFlags(fs, cfg, &negated)
	defineDisplayFlags(fs, cfg, &negated)
	defineUtilityFlags(fs, &negated)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stderr, version)
		}
		return err
	}

	applyNegatedFlags(cfg, &negated)

	if negated.showHelp {
		printUsage(stderr, version)
		return flag.ErrHelp
	}
	if negated.showVersion {
		fmt.Fprintln(stdout, "sessionmux v"+version)
		return ErrVersion
	}

	parsePositionalArgs(fs, cfg)
	cfg.OutputDir = NormalizeDirArg(cfg.OutputDir)
	cfg.WorkDir = NormalizeDirArg(cfg.WorkDir)
	return nil
}

// findConfigArg returns the value of --config/-config without parsing the
// rest of the command line.
func findConfigArg(args []string) string {
	for i, a := range args {
		if a == "--" {
			return ""
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// negatedFlags holds boolean flags that are applied after Parse.
// These either invert a default (e.g. force -> SkipExisting=false) or trigger exit (showHelp, showVersion).
type negatedFlags struct {
	force       bool
	forceColor  bool
	noColor     bool
	noFps       bool
	showVersion bool
	showHelp    bool
}

// defineSourceFlags registers --config, -F/--file, -o/--output, -O/--output-dir, --work-dir.
func defineSourceFlags(fs *flag.FlagSet, cfg *Config) {
	var ignored string
	fs.StringVar(&ignored, "config", cfg.ConfigFile, "YAML config file (loaded before flags)")
	fs.StringVar(&cfg.BatchFile, "file", cfg.BatchFile, "Batch CSV file: url[,filename] per line")
	fs.StringVar(&cfg.BatchFile, "F", cfg.BatchFile, "Same as --file")
	fs.StringVar(&cfg.OutputName, "output", cfg.OutputName, "Output file name (single source only)")
	fs.StringVar(&cfg.OutputName, "o", cfg.OutputName, "Same as --output")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for finished recordings")
	fs.StringVar(&cfg.OutputDir, "O", cfg.OutputDir, "Same as --output-dir")
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "Directory for job workspaces")
}

// defineEncodingFlags registers -q/--quality, -e/--encoder, --exclude-encoder, --vaapi-device,
// --camera-layout, --require-camera, --screen-decoder.
func defineEncodingFlags(fs *flag.FlagSet, cfg *Config) {
	fs.Var(&qualityValue{&cfg.Quality}, "quality", "Quality tier: fast | medium | high | ultra")
	fs.Var(&qualityValue{&cfg.Quality}, "q", "Same as --quality")
	fs.StringVar(&cfg.EncoderChoice, "encoder", cfg.EncoderChoice, "Encoder: auto or a candidate ID")
	fs.StringVar(&cfg.EncoderChoice, "e", cfg.EncoderChoice, "Same as --encoder")
	fs.Var(&listValue{&cfg.ExcludeEncoders}, "exclude-encoder", "Candidate ID(s) to skip (comma-separated, repeatable)")
	fs.StringVar(&cfg.VaapiDevice, "vaapi-device", cfg.VaapiDevice, "VAAPI render node")
	fs.Var(&cameraLayoutValue{&cfg.CameraLayout}, "camera-layout", "Camera video: none | pip")
	fs.BoolVar(&cfg.RequireCamera, "require-camera", cfg.RequireCamera, "Fail when the camera channel is missing")
	fs.StringVar(&cfg.ScreenDecoder, "screen-decoder", cfg.ScreenDecoder, "Force a decoder for the screen channel (e.g. vp6f)")
}

// defineProbeFlags registers --probe-timeout, --probe-seconds, --sample-seconds, --encode-timeout,
// --merge-timeout, --download-retries, --http-timeout.
func defineProbeFlags(fs *flag.FlagSet, cfg *Config) {
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Timeout per encoder trial")
	fs.Float64Var(&cfg.ProbeSeconds, "probe-seconds", cfg.ProbeSeconds, "Trial encode length in seconds")
	fs.Float64Var(&cfg.SampleSeconds, "sample-seconds", cfg.SampleSeconds, "Sample clip length in seconds")
	fs.DurationVar(&cfg.EncodeTimeout, "encode-timeout", cfg.EncodeTimeout, "Timeout for the final encode (0 = none)")
	fs.DurationVar(&cfg.MergeTimeout, "merge-timeout", cfg.MergeTimeout, "Timeout per segment merge (0 = none)")
	fs.IntVar(&cfg.DownloadRetries, "download-retries", cfg.DownloadRetries, "Download attempts per archive")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "Timeout for page fetch and connect")
}

// defineBehaviorFlags registers jobs, force, dry-run, analyze.
func defineBehaviorFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.IntVar(&cfg.Jobs, "jobs", cfg.Jobs, "Recordings processed in parallel")
	fs.IntVar(&cfg.Jobs, "j", cfg.Jobs, "Same as --jobs")
	fs.BoolVar(&n.force, "force", false, "Overwrite existing output files")
	fs.BoolVar(&n.force, "f", false, "Same as --force")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Fetch, merge and select an encoder; skip the final encode")
	fs.BoolVar(&cfg.DryRun, "d", false, "Same as --dry-run")
	fs.BoolVar(&cfg.AnalyzeOnly, "analyze", false, "Print a segment table per source and exit")
	fs.BoolVar(&cfg.AnalyzeOnly, "a", false, "Same as --analyze")
}

// defineDisplayFlags registers --color, --no-color, --show-fps, --no-fps, verbose, --check, --log, --metrics-addr.
func defineDisplayFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.BoolVar(&n.forceColor, "color", false, "Force colored logs")
	fs.BoolVar(&n.noColor, "no-color", false, "Disable colored logs")
	fs.BoolVar(&cfg.ShowFfmpegFPS, "show-fps", cfg.ShowFfmpegFPS, "Show live ffmpeg progress")
	fs.BoolVar(&n.noFps, "no-fps", false, "Hide live ffmpeg progress")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Verbose output")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Same as --verbose")
	fs.BoolVar(&cfg.CheckOnly, "check", false, "Run system diagnostics and exit")
	fs.BoolVar(&cfg.CheckOnly, "c", false, "Same as --check")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "Append logs to file")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "Same as --log")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
}

// defineUtilityFlags registers --version and --help.
func defineUtilityFlags(fs *flag.FlagSet, n *negatedFlags) {
	fs.BoolVar(&n.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&n.showVersion, "V", false, "Same as --version")
	fs.BoolVar(&n.showHelp, "help", false, "Show this help and exit")
	fs.BoolVar(&n.showHelp, "h", false, "Same as --help")
}

// applyNegatedFlags copies negated and override flag values into cfg (e.g. force -> SkipExisting=false).
func applyNegatedFlags(cfg *Config, n *negatedFlags) {
	if n.force {
		cfg.SkipExisting = false
	}
	if n.noFps {
		cfg.ShowFfmpegFPS = false
	}
	if n.noColor {
		cfg.ColorMode = ColorNever
	} else if n.forceColor {
		cfg.ColorMode = ColorAlways
	}
}

// parsePositionalArgs appends every positional arg (URL, .zip or directory) to Sources.
func parsePositionalArgs(fs *flag.FlagSet, cfg *Config) {
	for _, a := range fs.Args() {
		a = strings.TrimSpace(a)
		if a != "" {
			cfg.Sources = append(cfg.Sources, a)
		}
	}
}

// printUsage writes the help text. Column-aligned for readability.
func printUsage(w io.Writer, version string) {
	const col1 = 32 // width of "  -x, --long-name <arg>  "
	lines := []struct {
		flags string
		desc  string
	}{
		{"", "sessionmux v" + version + " - conference recording downloader and muxer"},
		{"", ""},
		{"  sessionmux [OPTIONS] <url|archive.zip|dir>...", ""},
		{"  sessionmux [OPTIONS] --file batch.csv", ""},
		{"", ""},
		{"Sources", ""},
		{"  --config <path>", "YAML config file (flags override it)"},
		{"  -F, --file <path>", "Batch CSV: url[,filename] per line"},
		{"  -o, --output <name>", "Output file name (single source only)"},
		{"  -O, --output-dir <dir>", "Output directory (default: ~/Downloads/sessionmux)"},
		{"  --work-dir <dir>", "Job workspace directory (default: system temp)"},
		{"", ""},
		{"Encoding", ""},
		{"  -q, --quality <tier>", "fast | medium | high | ultra (default: medium)"},
		{"  -e, --encoder <id>", "auto | nvenc | qsv | amf | vaapi | videotoolbox | x264"},
		{"  --exclude-encoder <ids>", "Never probe these candidates"},
		{"  --vaapi-device <path>", "VAAPI render node (default: first found)"},
		{"  --camera-layout <none|pip>", "Overlay camera video (default: none)"},
		{"  --require-camera", "Fail recordings without a camera channel"},
		{"  --screen-decoder <name>", "Force the screen channel decoder"},
		{"", ""},
		{"Probing & timeouts", ""},
		{"  --probe-timeout <dur>", "Timeout per encoder trial (default: 45s)"},
		{"  --probe-seconds <n>", "Trial encode length (default: 2)"},
		{"  --sample-seconds <n>", "Sample clip length (default: 5)"},
		{"  --encode-timeout <dur>", "Final encode timeout (default: none)"},
		{"  --merge-timeout <dur>", "Segment merge timeout (default: 30m)"},
		{"  --download-retries <n>", "Download attempts (default: 3)"},
		{"  --http-timeout <dur>", "Page fetch / connect timeout (default: 30s)"},
		{"", ""},
		{"Output & behavior", ""},
		{"  -j, --jobs <n>", "Recordings processed in parallel (default: 1)"},
		{"  -f, --force", "Overwrite existing output files"},
		{"  -d, --dry-run", "Fetch, merge, select; skip the final encode"},
		{"  -a, --analyze", "Print per-segment stats and exit"},
		{"", ""},
		{"Display", ""},
		{"  --show-fps", "Show live ffmpeg progress"},
		{"  --no-fps", "Hide live ffmpeg progress"},
		{"  --color", "Force colored logs"},
		{"  --no-color", "Disable colored logs"},
		{"  -v, --verbose", "Verbose output"},
		{"", ""},
		{"Utility", ""},
		{"  -l, --log <path>", "Append logs to file"},
		{"  --metrics-addr <addr>", "Serve Prometheus metrics (e.g. :9464)"},
		{"  -c, --check", "System diagnostics (ffmpeg, hardware, encoder probe)"},
		{"  -V, --version", "Print version and exit"},
		{"  -h, --help", "Show this help and exit"},
	}

	for _, l := range lines {
		if l.flags == "" && l.desc == "" {
			fmt.Fprintln(w)
			continue
		}
		if l.desc == "" {
			fmt.Fprintln(w, l.flags)
			continue
		}
		if l.flags == "" {
			fmt.Fprintln(w, l.desc)
			continue
		}
		padding := col1 - len(l.flags)
		if padding < 1 {
			padding = 1
		}
		fmt.Fprintf(w, "%s%*s%s\n", l.flags, padding, "", l.desc)
	}
}

// flag.Value adapters so we can use enum types (QualityTier, CameraLayout) with flag.Var.

type qualityValue struct{ p *QualityTier }

func (q *qualityValue) String() string {
	if q.p == nil {
		return ""
	}
	return string(*q.p)
}

func (q *qualityValue) Set(s string) error {
	t, err := ParseQualityTier(s)
	if err != nil {
		return err
	}
	*q.p = t
	return nil
}

type cameraLayoutValue struct{ p *CameraLayout }

func (c *cameraLayoutValue) String() string {
	if c.p == nil {
		return ""
	}
	return string(*c.p)
}

func (c *cameraLayoutValue) Set(s string) error {
	switch strings.ToLower(s) {
	case "none", "audio":
		*c.p = CameraAudioOnly
	case "pip":
		*c.p = CameraPiP
	default:
		return fmt.Errorf("invalid camera layout %q (use 'none' or 'pip')", s)
	}
	return nil
}

// listValue accumulates comma-separated values across repeated flags.
type listValue struct{ p *[]string }

func (l *listValue) String() string {
	if l.p == nil {
		return ""
	}
	return strings.Join(*l.p, ",")
}

func (l *listValue) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			*l.p = append(*l.p, part)
		}
	}
	return nil
}
