package encoder

import (
	"fmt"
	"strings"
)

// NoUsableEncoderError is returned by [Select] when no probed candidate is
// usable. Results carries every verdict for diagnostics.
type NoUsableEncoderError struct {
	Results []ProbeResult
}

func (e *NoUsableEncoderError) Error() string {
	if len(e.Results) == 0 {
		return "no usable H.264 encoder: nothing was probed"
	}
	parts := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		parts = append(parts, r.Candidate.ID+": "+r.Reason)
	}
	return fmt.Sprintf("no usable H.264 encoder (%s)", strings.Join(parts, "; "))
}
