package render

import (
	"fmt"

	"github.com/backmassage/sessionmux/internal/config"
	"github.com/backmassage/sessionmux/internal/encoder"
)

// Stage names the step of an encode that failed.
type Stage string

const (
	StagePlan     Stage = "plan"     // Inspecting inputs or building the graph.
	StageEncode   Stage = "encode"   // ffmpeg exited non-zero, timed out or was cancelled.
	StageVerify   Stage = "verify"   // Output missing, empty or unreadable.
	StageFinalize Stage = "finalize" // Output directory or rename failed.
)

// EncodeError is any final-encode failure. The partial output has already
// been removed when it is returned.
type EncodeError struct {
	Candidate encoder.Candidate
	Tier      config.QualityTier
	Stage     Stage
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode with %s at %s quality (%s): %v", e.Candidate.ID, e.Tier, e.Stage, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
