// Package ffmpeg runs ffmpeg/ffprobe subprocesses and builds the argument
// lists shared by the merge, probe and encode stages.
//
// Every invocation goes through a [Runner]. The production [ExecRunner]
// starts each tool in its own process group so a timeout or a cancelled
// context kills the whole tree, keeps a bounded tail of stderr for
// diagnostics, and reports timeouts separately from non-zero exits.
// Tests substitute a fake Runner.
//
// [Classify] maps captured stderr to a coarse [Reason] used in probe
// verdicts and error messages.
package ffmpeg
