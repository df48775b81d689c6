package encoder

import (
	"slices"
	"sort"
	"strings"
)

// Select returns the highest-ranked usable candidate among results, skipping
// any whose ID is in exclude. Results may arrive in any order. When nothing
// qualifies it returns a *NoUsableEncoderError carrying every verdict.
func Select(results []ProbeResult, exclude ...string) (Candidate, error) {
	ordered := slices.Clone(results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Candidate.Rank < ordered[j].Candidate.Rank
	})

	for _, r := range ordered {
		if !r.Usable || excluded(r.Candidate.ID, exclude) {
			continue
		}
		return r.Candidate, nil
	}
	return Candidate{}, &NoUsableEncoderError{Results: ordered}
}

func excluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if strings.EqualFold(id, strings.TrimSpace(e)) {
			return true
		}
	}
	return false
}

// DeviceFor returns the render node the trial of candidate id ran on, so
// the final encode can target the same device. Empty when id has no
// verdict or does not use one.
func DeviceFor(results []ProbeResult, id string) string {
	for _, r := range results {
		if r.Candidate.ID == id {
			return r.Device
		}
	}
	return ""
}
