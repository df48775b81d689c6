package ffmpeg

import (
	"errors"
	"fmt"
	"regexp"
)

// Reason is a coarse classification of why an ffmpeg invocation failed.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonEncoderMissing    Reason = "encoder not available in this ffmpeg build"
	ReasonDeviceUnavailable Reason = "device or driver unavailable"
	ReasonInvalidOption     Reason = "encoder rejected its options"
	ReasonInvalidInput      Reason = "input unreadable or corrupt"
	ReasonTimeout           Reason = "timed out"
	ReasonUnknown           Reason = "ffmpeg failed"
)

// Pre-compiled regexes for classifying ffmpeg stderr output. Checked in
// order by [Classify]; the first match wins.
var (
	reEncoderMissing = regexp.MustCompile(
		`(?i)Unknown encoder|Encoder not found|Requested output format .* is not a suitable output format`)

	reDeviceUnavailable = regexp.MustCompile(
		`(?i)No NVENC capable devices found|Cannot load libcuda|Cannot load libnvidia-encode|` +
			`OpenEncodeSessionEx failed|No capable devices found|` +
			`Failed to initiali[sz]e VAAPI|No VA display found|vaInitialize failed|` +
			`Device creation failed|Failed to set value .* for option 'vaapi_device'|` +
			`Error creating a MFX session|MFXInit|Failed to create a session|` +
			`amfrt(64)?\.dll|AMF failed|Failed to load AMF|` +
			`cannot open shared object file|` +
			`Error while opening encoder|Could not open encoder|` +
			`Cannot create compression session|VTCompressionSessionCreate failed`)

	reInvalidOption = regexp.MustCompile(
		`(?i)Option .* not found|Error setting option|Unrecognized option|` +
			`Invalid argument|Undefined constant or missing '\(' in`)

	reInvalidInput = regexp.MustCompile(
		`(?i)Invalid data found when processing input|moov atom not found|` +
			`could not find codec parameters|No such file or directory|` +
			`Error opening input|Impossible to open|Truncating packet|` +
			`Failed to read frame size|EOF inside an unclosed`)
)

// Classify maps a failed invocation's stderr to a [Reason]. timedOut takes
// precedence over stderr content. Returns [ReasonUnknown] when nothing matches.
func Classify(stderr string, timedOut bool) Reason {
	switch {
	case timedOut:
		return ReasonTimeout
	case reEncoderMissing.MatchString(stderr):
		return ReasonEncoderMissing
	case reDeviceUnavailable.MatchString(stderr):
		return ReasonDeviceUnavailable
	case reInvalidInput.MatchString(stderr):
		return ReasonInvalidInput
	case reInvalidOption.MatchString(stderr):
		return ReasonInvalidOption
	}
	return ReasonUnknown
}

// ClassifyResult is [Classify] applied to an [ExecResult]; returns
// [ReasonNone] for a successful run.
func ClassifyResult(r ExecResult) Reason {
	if r.OK() {
		return ReasonNone
	}
	return Classify(r.Stderr, r.TimedOut)
}

// ToolError is a failed ffmpeg run. It keeps the captured stderr so
// callers can log its tail.
type ToolError struct {
	Err    error
	Stderr string
}

func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError wraps a failed result as "<what>: <reason>: <exit error>".
func NewToolError(what string, r ExecResult) *ToolError {
	return &ToolError{
		Err:    fmt.Errorf("%s: %s: %w", what, ClassifyResult(r), r.Err),
		Stderr: r.Stderr,
	}
}

// StderrOf returns the captured stderr from any *ToolError in err's chain.
func StderrOf(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Stderr
	}
	return ""
}
