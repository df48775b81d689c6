// Package pipeline runs a batch of recordings through fetch, locate,
// merge, encoder selection and the final encode, and reports the outcome.
//
// Files:
//   - batch.go: source list and batch CSV parsing
//   - runner.go: Run, per-job workspace and stage flow
//   - select.go: shared encoder selection (sample clip, probe, select)
//   - stage.go: StageError and failure logging
//   - stats.go: RunStats
//   - analyze.go: --analyze segment report with bitrate outliers
package pipeline
