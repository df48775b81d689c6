package pipeline

import (
	"errors"
	"fmt"

	"github.com/backmassage/sessionmux/internal/encoder"
	"github.com/backmassage/sessionmux/internal/ffmpeg"
	"github.com/backmassage/sessionmux/internal/logging"
	"github.com/backmassage/sessionmux/internal/render"
	"github.com/backmassage/sessionmux/internal/stream"
)

// Stage is a step of a job.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageLocate Stage = "locate"
	StageMerge  Stage = "merge"
	StageSelect Stage = "select"
	StageEncode Stage = "encode"
)

// tailLines is how much ffmpeg stderr is logged for a failed process.
const tailLines = 20

// StageError is a job failure attributed to one stage.
type StageError struct {
	Source string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Source, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// subject names the segment or candidate a failure is attributed to.
func subject(err error) string {
	var me *stream.StreamMergeError
	var ee *render.EncodeError
	var miss *stream.MissingStreamError
	switch {
	case errors.As(err, &me):
		return fmt.Sprintf("%s segment %s", me.Channel, me.Segment)
	case errors.As(err, &ee):
		return fmt.Sprintf("encoder %s, %s stage", ee.Candidate.ID, ee.Stage)
	case errors.As(err, &miss):
		return fmt.Sprintf("%s channel", miss.Channel)
	}
	return ""
}

// logFailure writes the one-line failure summary and, when a process
// failed, the tail of its stderr.
func logFailure(log *logging.Logger, err *StageError) {
	if s := subject(err.Err); s != "" {
		log.Error("[%s] %s (%s): %v", err.Stage, err.Source, s, err.Err)
	} else {
		log.Error("[%s] %s: %v", err.Stage, err.Source, err.Err)
	}
	if stderr := ffmpeg.StderrOf(err.Err); stderr != "" {
		log.Error("Last ffmpeg output:")
		log.Tail("ffmpeg", stderr, tailLines)
	}
}

// logNoEncoder lists every candidate's verdict.
func logNoEncoder(log *logging.Logger, err *encoder.NoUsableEncoderError) {
	log.Error("No usable H.264 encoder on this host; stopping the batch")
	for _, r := range err.Results {
		log.Error("  %-13s %s: %s", r.Candidate.ID, r.Stage, r.Reason)
	}
}
