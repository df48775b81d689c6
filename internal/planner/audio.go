package planner

import "fmt"

// chooseAudio picks the audio clock. The camera channel carries the
// presenter's voice and is authoritative; screen audio is the fallback.
func chooseAudio(screen, camera *Input) AudioSource {
	switch {
	case camera.hasAudio():
		return AudioCamera
	case screen.hasAudio():
		return AudioScreen
	default:
		return AudioNone
	}
}

// audioClock returns the duration of the chosen audio source in seconds.
func audioClock(src AudioSource, screen, camera *Input) float64 {
	switch src {
	case AudioCamera:
		return camera.Probe.AudioDuration()
	case AudioScreen:
		return screen.Probe.AudioDuration()
	default:
		return 0
	}
}

// audioChain resamples the chosen source to a fixed rate, stretching or
// squeezing it to follow its timestamps, and rebases it to zero.
func audioChain(src AudioSource, rate int, out string) string {
	in := "[0:a]"
	if src == AudioCamera {
		in = "[1:a]"
	}
	return fmt.Sprintf("%saresample=%d:async=1:first_pts=0,asetpts=PTS-STARTPTS%s", in, rate, out)
}
