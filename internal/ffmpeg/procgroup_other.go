//go:build !unix

package ffmpeg

import "os/exec"

// setProcessGroup is a no-op off unix; exec.CommandContext kills the direct
// child on cancellation.
func setProcessGroup(cmd *exec.Cmd) {}
