package encoder

import (
	"context"
	"errors"
)

// ComputeFunc produces a selection: it cuts a sample, probes and selects.
// Returning a *NoUsableEncoderError is a final answer; any other error means
// the attempt could not run (e.g. the sample clip failed) and is retried by
// the next caller.
type ComputeFunc func(ctx context.Context) (Candidate, []ProbeResult, error)

// Selection is the run-scoped, compute-once encoder choice shared by every
// job. The first caller computes; concurrent callers wait for it; the
// outcome (candidate or NoUsableEncoderError) is immutable afterwards.
type Selection struct {
	sem chan struct{}

	done      bool
	candidate Candidate
	results   []ProbeResult
	err       error
}

// NewSelection returns an empty Selection.
func NewSelection() *Selection {
	return &Selection{sem: make(chan struct{}, 1)}
}

// Get returns the shared candidate, running compute if no final outcome
// exists yet. Waiting honors ctx.
func (s *Selection) Get(ctx context.Context, compute ComputeFunc) (Candidate, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return Candidate{}, ctx.Err()
	}
	defer func() { <-s.sem }()

	if s.done {
		return s.candidate, s.err
	}

	c, results, err := compute(ctx)
	var none *NoUsableEncoderError
	if err != nil && !errors.As(err, &none) {
		return Candidate{}, err
	}
	s.candidate, s.results, s.err, s.done = c, results, err, true
	return c, err
}

// Results returns the verdicts behind the final outcome, or nil before one
// exists.
func (s *Selection) Results() []ProbeResult {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return s.results
}

// Done reports whether a final outcome has been recorded.
func (s *Selection) Done() bool {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return s.done
}
