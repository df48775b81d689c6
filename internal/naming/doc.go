// Package naming derives output file names for recordings: host-safe
// filename sanitization, the default recording_<id>.mp4 name, and in-run
// collision resolution so two batch entries never write the same file.
package naming
