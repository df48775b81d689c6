// Package planner turns two merged logical streams and a chosen encoder
// into a SyncPlan: the ffmpeg filter graph that puts both channels on one
// clock, the stream maps, and the audio source decision. The render
// package consumes the plan to build the final encode command.
//
// Implemented:
//   - SyncPlan, Input, AudioSource (types.go)
//   - BuildPlan: input order, padding decision, graph assembly (planner.go)
//   - Screen/camera video chains, tpad, picture-in-picture overlay (filter.go)
//   - Audio source selection and resample chain (audio.go)
package planner
