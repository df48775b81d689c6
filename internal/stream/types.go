// Package stream finds the per-channel segment files of an extracted
// recording, concatenates each channel into one logical stream, and cuts
// the short sample clip used for encoder probing.
package stream

import (
	"errors"
	"fmt"
	"os"
)

// Channel is one of the two independently recorded tracks.
type Channel string

const (
	ChannelScreen Channel = "screen" // Screen-share video (+ audio on some servers).
	ChannelCamera Channel = "camera" // Camera/voice audio, optional video.
)

// MediaSegment is one raw fragment of a channel. Index is the ordering key
// parsed from the filename.
type MediaSegment struct {
	Path    string
	Channel Channel
	Index   int
}

// Channels holds the located segments of both channels, each in merge order.
type Channels struct {
	Screen []MediaSegment
	Camera []MediaSegment
}

// LogicalStream is one channel after merging. Path is the concatenated file,
// or the sole segment when Owned is false.
type LogicalStream struct {
	Channel  Channel
	Path     string
	Owned    bool     // True when Path was created by the merge and must be removed.
	Segments int      // Number of input segments.
	Duration float64  // Seconds, from ffprobe.
	HasVideo bool
	HasAudio bool
	Warnings []string // Best-effort sanity findings (parameter drift between segments).
}

// Release removes the concatenated file when this stream owns it. Safe to
// call more than once and on a nil stream.
func (l *LogicalStream) Release() error {
	if l == nil || !l.Owned || l.Path == "" {
		return nil
	}
	err := os.Remove(l.Path)
	l.Owned = false
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MissingStreamError means a required channel has no segments in the
// recording root.
type MissingStreamError struct {
	Root    string
	Channel Channel
}

func (e *MissingStreamError) Error() string {
	return fmt.Sprintf("no %s segments found in %s", e.Channel, e.Root)
}

// StreamMergeError means a channel could not be merged. Segment names the
// segment the failure was attributed to.
type StreamMergeError struct {
	Channel Channel
	Segment string
	Err     error
}

func (e *StreamMergeError) Error() string {
	return fmt.Sprintf("merge %s stream: segment %s: %v", e.Channel, e.Segment, e.Err)
}

func (e *StreamMergeError) Unwrap() error { return e.Err }
