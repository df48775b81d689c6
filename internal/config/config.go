// Package config holds runtime configuration: defaults, an optional YAML
// config file, CLI flag parsing, and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// --- Enum types for validated string fields ---

// QualityTier names one row of the fixed encoder parameter table.
type QualityTier string

const (
	QualityFast   QualityTier = "fast"   // Fastest presets, smallest output.
	QualityMedium QualityTier = "medium" // Balanced (default).
	QualityHigh   QualityTier = "high"   // Slower presets, lower CRF/QP.
	QualityUltra  QualityTier = "ultra"  // Slowest presets, highest fidelity.
)

// QualityTiers lists every accepted tier from lowest to highest fidelity.
var QualityTiers = []QualityTier{QualityFast, QualityMedium, QualityHigh, QualityUltra}

// ParseQualityTier accepts exactly one of fast|medium|high|ultra
// (case-insensitive, surrounding whitespace ignored).
func ParseQualityTier(s string) (QualityTier, error) {
	t := QualityTier(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("invalid quality %q (use fast, medium, high or ultra)", s)
}

// Valid reports whether t is one of the four known tiers.
func (t QualityTier) Valid() bool {
	switch t {
	case QualityFast, QualityMedium, QualityHigh, QualityUltra:
		return true
	}
	return false
}

// CameraLayout controls what happens to the camera channel's video.
type CameraLayout string

const (
	CameraAudioOnly CameraLayout = "none" // Use only the camera's audio (default).
	CameraPiP       CameraLayout = "pip"  // Overlay camera video bottom-right.
)

// ColorMode controls ANSI color output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // Enable colors when stdout is a TTY (default).
	ColorAlways ColorMode = "always" // Force colors on.
	ColorNever  ColorMode = "never"  // Disable colors entirely.
)

// EncoderAuto lets the prober/selector pick the encoder.
const EncoderAuto = "auto"

// Config holds all runtime settings. It is populated by [DefaultConfig],
// optionally overlaid by a YAML file ([LoadFile]) and then by [ParseFlags]
// before being passed (by pointer) to packages that need it.
type Config struct {
	// Inputs (positional args and --file).
	Sources    []string `yaml:"-"`
	BatchFile  string   `yaml:"batch_file"`
	OutputName string   `yaml:"-"` // --output, single source only.

	// Locations.
	OutputDir string `yaml:"output_dir"` // Default: ~/Downloads/sessionmux.
	WorkDir   string `yaml:"work_dir"`   // Default: os.TempDir().

	// Encoding.
	Quality         QualityTier  `yaml:"quality"`          // Default: "medium".
	EncoderChoice   string       `yaml:"encoder"`          // "auto" or a candidate ID.
	ExcludeEncoders []string     `yaml:"exclude_encoders"` // Candidate IDs never probed.
	VaapiDevice     string       `yaml:"vaapi_device"`     // Default: first /dev/dri/renderD*.
	CameraLayout    CameraLayout `yaml:"camera_layout"`    // Default: "none".
	RequireCamera   bool         `yaml:"require_camera"`
	ScreenDecoder   string       `yaml:"screen_decoder"` // Forced decoder for screen input (e.g. "vp6f").
	FrameRate       int          `yaml:"-"`              // Fixed: 30.
	AudioSampleRate int          `yaml:"-"`              // Fixed: 44100 Hz.

	// Probing and timeouts.
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`  // Default: 45s per trial.
	ProbeSeconds  float64       `yaml:"probe_seconds"`  // Default: 2s trial encode.
	SampleSeconds float64       `yaml:"sample_seconds"` // Default: 5s sample clip.
	MergeTimeout  time.Duration `yaml:"merge_timeout"`  // Default: 30m.
	EncodeTimeout time.Duration `yaml:"encode_timeout"` // Default: 0 (no limit).

	// Download.
	DownloadRetries int           `yaml:"download_retries"` // Default: 3.
	HTTPTimeout     time.Duration `yaml:"http_timeout"`     // Default: 30s (page + connect).

	// Behavior.
	Jobs          int  `yaml:"jobs"` // Default: 1.
	SkipExisting  bool `yaml:"skip_existing"`
	DryRun        bool `yaml:"-"`
	AnalyzeOnly   bool `yaml:"-"`
	CheckOnly     bool `yaml:"-"`
	ShowFfmpegFPS bool `yaml:"show_ffmpeg_fps"`

	// Display and logging.
	Verbose     bool      `yaml:"verbose"`
	ColorMode   ColorMode `yaml:"color"`
	LogFile     string    `yaml:"log_file"`
	MetricsAddr string    `yaml:"metrics_addr"`
	ConfigFile  string    `yaml:"-"`

	// Tool binaries.
	FFmpegBin  string `yaml:"ffmpeg"`
	FFprobeBin string `yaml:"ffprobe"`
}

// DefaultConfig returns a Config with all defaults applied. Used as the base
// before [LoadFile] and [ParseFlags] apply overrides.
func DefaultConfig() Config {
	return Config{
		OutputDir:       DefaultOutputDir(),
		WorkDir:         os.TempDir(),
		Quality:         QualityMedium,
		EncoderChoice:   EncoderAuto,
		CameraLayout:    CameraAudioOnly,
		FrameRate:       30,
		AudioSampleRate: 44100,
		ProbeTimeout:    45 * time.Second,
		ProbeSeconds:    2,
		SampleSeconds:   5,
		MergeTimeout:    30 * time.Minute,
		DownloadRetries: 3,
		HTTPTimeout:     30 * time.Second,
		Jobs:            1,
		SkipExisting:    true,
		ShowFfmpegFPS:   false,
		ColorMode:       ColorAuto,
		FFmpegBin:       "ffmpeg",
		FFprobeBin:      "ffprobe",
	}
}

// DefaultOutputDir returns ~/Downloads/sessionmux, or "sessionmux" relative
// to the working directory when the home directory cannot be resolved.
func DefaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "sessionmux"
	}
	return filepath.Join(home, "Downloads", "sessionmux")
}

// NormalizeDirArg strips trailing slashes from a directory path.
// The filesystem root "/" is returned unchanged so we don't produce an empty string.
func NormalizeDirArg(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimRight(path, "/")
}

// Validate checks enum fields and numeric bounds. When not in CheckOnly
// mode, it also requires at least one source (positional or batch file).
func (c *Config) Validate() error {
	if !c.Quality.Valid() {
		return fmt.Errorf("invalid quality %q (use fast, medium, high or ultra)", c.Quality)
	}

	switch c.CameraLayout {
	case CameraAudioOnly, CameraPiP:
		// valid
	default:
		return errors.New("invalid camera layout (use 'none' or 'pip')")
	}

	switch c.ColorMode {
	case ColorAuto, ColorAlways, ColorNever:
		// valid
	default:
		return errors.New("invalid color mode (use 'auto', 'always' or 'never')")
	}

	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1 (got %d)", c.Jobs)
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("probe timeout must be positive")
	}
	if c.ProbeSeconds <= 0 {
		return errors.New("probe seconds must be positive")
	}
	if c.SampleSeconds < c.ProbeSeconds {
		return fmt.Errorf("sample seconds (%g) must be at least probe seconds (%g)", c.SampleSeconds, c.ProbeSeconds)
	}
	if c.EncodeTimeout < 0 || c.MergeTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.DownloadRetries < 1 {
		return errors.New("download retries must be at least 1")
	}
	if strings.TrimSpace(c.EncoderChoice) == "" {
		c.EncoderChoice = EncoderAuto
	}

	if c.CheckOnly {
		return nil
	}
	if len(c.Sources) == 0 && c.BatchFile == "" {
		return errors.New("need a recording URL, archive or directory (or --file)")
	}
	if c.OutputName != "" && (len(c.Sources) != 1 || c.BatchFile != "") {
		return errors.New("--output can only be used with a single source")
	}
	if c.OutputDir == "" {
		return errors.New("output directory must not be empty")
	}
	return nil
}

// ValidatePaths ensures the resolved work directory is not inside (or equal
// to) the resolved output directory, so job workspaces never land among
// finished recordings. Both arguments must be absolute, symlink-resolved paths.
func (c *Config) ValidatePaths(outputAbs, workAbs string) error {
	sep := string(filepath.Separator)
	if workAbs == outputAbs || strings.HasPrefix(workAbs+sep, outputAbs+sep) {
		return errors.New("work directory must not be inside the output directory")
	}
	return nil
}
