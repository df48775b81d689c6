// Package probe runs ffprobe and converts its JSON output into typed
// stream descriptions used by the merge, encoder-probe and encode stages.
package probe
