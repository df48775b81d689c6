package stream

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Filename prefixes the conference server uses per channel, lowercased.
const (
	prefixScreen = "screenshare"
	prefixCamera = "cameravoip"
)

// reSegmentName captures the channel prefix of "screenshare_2_5.flv" or
// "cameraVoip_1_3.flv".
var reSegmentName = regexp.MustCompile(`^([A-Za-z0-9]+)_`)

// Locate walks root for *.flv segments and groups them by channel, each
// ordered by the numeric suffix after the last underscore (non-numeric
// suffixes sort first, ties break on name). The screen channel is always
// required; the camera channel only when requireCamera is set.
func Locate(root string, requireCamera bool) (Channels, error) {
	var ch Channels
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".flv") {
			return nil
		}
		name := filepath.Base(path)
		m := reSegmentName.FindStringSubmatch(name)
		if m == nil {
			return nil
		}
		seg := MediaSegment{Path: path, Index: segmentIndex(name)}
		switch strings.ToLower(m[1]) {
		case prefixScreen:
			seg.Channel = ChannelScreen
			ch.Screen = append(ch.Screen, seg)
		case prefixCamera:
			seg.Channel = ChannelCamera
			ch.Camera = append(ch.Camera, seg)
		}
		return nil
	})
	if err != nil {
		return Channels{}, err
	}

	sortSegments(ch.Screen)
	sortSegments(ch.Camera)

	if len(ch.Screen) == 0 {
		return ch, &MissingStreamError{Root: root, Channel: ChannelScreen}
	}
	if requireCamera && len(ch.Camera) == 0 {
		return ch, &MissingStreamError{Root: root, Channel: ChannelCamera}
	}
	return ch, nil
}

// segmentIndex parses the number after the last underscore of the base
// name; 0 when it is not numeric.
func segmentIndex(name string) int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return 0
	}
	return n
}

func sortSegments(segs []MediaSegment) {
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Index != segs[j].Index {
			return segs[i].Index < segs[j].Index
		}
		return segs[i].Path < segs[j].Path
	})
}

// Paths returns the segment paths in order.
func Paths(segs []MediaSegment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Path
	}
	return out
}
