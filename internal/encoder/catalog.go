// Package encoder holds the closed catalog of H.264 encoder candidates, the
// fixed quality table, the capability prober that trial-encodes a sample
// with each candidate, and the selector that picks the preferred usable one.
package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/hardware"
)

// DefaultVaapiDevice is used when no render node was configured or detected.
const DefaultVaapiDevice = "/dev/dri/renderD128"

// Candidate is one encoder the tool knows how to drive. Candidates are
// static values; Rank orders preference (lower wins).
type Candidate struct {
	ID    string         // Stable token used on the CLI ("nvenc", "x264", ...).
	Name  string         // Display name.
	Codec string         // ffmpeg encoder name.
	Class hardware.Class // Hardware family required; ClassNone for software.
	Rank  int

	upload string // Pixel-format / upload filter appended to the video chain.
	args   func(q QualityParams) []string
}

// Hardware reports whether the candidate needs a GPU or media engine.
func (c Candidate) Hardware() bool { return c.Class != hardware.ClassNone }

// String returns "Name (codec)".
func (c Candidate) String() string { return c.Name + " (" + c.Codec + ")" }

// UploadFilter returns the filter that converts decoded frames into what
// the encoder accepts.
func (c Candidate) UploadFilter() string { return c.upload }

// InputArgs returns global options that must precede -i (device setup).
func (c Candidate) InputArgs(vaapiDevice string) []string {
	if c.Class != hardware.ClassVAAPI {
		return nil
	}
	if vaapiDevice == "" {
		vaapiDevice = DefaultVaapiDevice
	}
	return []string{"-vaapi_device", vaapiDevice}
}

// VideoArgs returns the codec arguments for tier, starting with -c:v.
func (c Candidate) VideoArgs(tier config.QualityTier) []string {
	q, ok := Quality(tier)
	if !ok {
		q, _ = Quality(config.QualityMedium)
	}
	return append([]string{"-c:v", c.Codec}, c.args(q)...)
}

// NormalizeFilter is the frame-rate normalization every encode and trial
// starts its video chain with.
func NormalizeFilter(fps int) string {
	return fmt.Sprintf("fps=%d,setpts=PTS-STARTPTS", fps)
}

// VideoChain is the complete single-input video filter chain for c:
// normalization followed by the candidate's upload filter.
func VideoChain(fps int, c Candidate) string {
	if c.upload == "" {
		return NormalizeFilter(fps)
	}
	return NormalizeFilter(fps) + "," + c.upload
}

var catalog = []Candidate{
	{
		ID: "nvenc", Name: "NVIDIA NVENC", Codec: "h264_nvenc", Class: hardware.ClassNVIDIA, Rank: 0,
		upload: "format=yuv420p",
		args: func(q QualityParams) []string {
			return []string{"-rc", "vbr", "-cq", strconv.Itoa(q.NVENCCQ), "-b:v", "0", "-preset", q.NVENCPreset}
		},
	},
	{
		ID: "qsv", Name: "Intel Quick Sync", Codec: "h264_qsv", Class: hardware.ClassIntel, Rank: 1,
		upload: "format=nv12",
		args: func(q QualityParams) []string {
			return []string{"-global_quality", strconv.Itoa(q.QSVQuality), "-preset", q.QSVPreset}
		},
	},
	{
		ID: "amf", Name: "AMD AMF", Codec: "h264_amf", Class: hardware.ClassAMD, Rank: 2,
		upload: "format=yuv420p",
		args: func(q QualityParams) []string {
			qp := strconv.Itoa(q.AMFQP)
			return []string{"-rc", "cqp", "-qp_i", qp, "-qp_p", qp, "-quality", q.AMFQuality}
		},
	},
	{
		ID: "vaapi", Name: "VAAPI", Codec: "h264_vaapi", Class: hardware.ClassVAAPI, Rank: 3,
		upload: "format=nv12,hwupload",
		args: func(q QualityParams) []string {
			return []string{"-qp", strconv.Itoa(q.VAAPIQP)}
		},
	},
	{
		ID: "videotoolbox", Name: "Apple VideoToolbox", Codec: "h264_videotoolbox", Class: hardware.ClassVideoToolbox, Rank: 4,
		upload: "format=yuv420p",
		args: func(q QualityParams) []string {
			return []string{"-q:v", strconv.Itoa(q.VTQuality)}
		},
	},
	{
		ID: "x264", Name: "libx264 (software)", Codec: "libx264", Class: hardware.ClassNone, Rank: 5,
		upload: "format=yuv420p",
		args: func(q QualityParams) []string {
			return []string{"-crf", strconv.Itoa(q.X264CRF), "-preset", q.X264Preset}
		},
	},
}

// Catalog returns every candidate in preference order. The slice is a copy.
func Catalog() []Candidate {
	out := make([]Candidate, len(catalog))
	copy(out, catalog)
	return out
}

// IDs returns the candidate IDs in preference order.
func IDs() []string {
	ids := make([]string, len(catalog))
	for i, c := range catalog {
		ids[i] = c.ID
	}
	return ids
}

// Lookup returns the candidate with the given ID (case-insensitive).
func Lookup(id string) (Candidate, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, c := range catalog {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// Software returns the libx264 fallback candidate.
func Software() Candidate {
	c, _ := Lookup("x264")
	return c
}

// HasSoftware reports whether cands still contains the libx264 fallback.
// Without it a host whose hardware encoders all fail has nothing to use.
func HasSoftware(cands []Candidate) bool {
	for _, c := range cands {
		if !c.Hardware() {
			return true
		}
	}
	return false
}

// Candidates resolves the configured encoder choice and exclusions into the
// ordered list to probe. choice is config.EncoderAuto or one ID; unknown
// IDs are reported as errors so typos fail before any work starts.
func Candidates(choice string, exclude []string) ([]Candidate, error) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		c, ok := Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown encoder %q in exclude list (known: %s)", id, strings.Join(IDs(), ", "))
		}
		skip[c.ID] = true
	}

	choice = strings.ToLower(strings.TrimSpace(choice))
	if choice != "" && choice != config.EncoderAuto {
		c, ok := Lookup(choice)
		if !ok {
			return nil, fmt.Errorf("unknown encoder %q (use auto or one of: %s)", choice, strings.Join(IDs(), ", "))
		}
		if skip[c.ID] {
			return nil, fmt.Errorf("encoder %q is both selected and excluded", c.ID)
		}
		return []Candidate{c}, nil
	}

	var out []Candidate
	for _, c := range catalog {
		if !skip[c.ID] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("every encoder is excluded")
	}
	return out, nil
}
