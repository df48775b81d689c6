package naming

import (
	"path/filepath"
	"strings"
)

// OutputName returns the output filename for a recording: custom when
// given, otherwise recording_<id>.mp4. ".mp4" is appended when missing and
// the result is sanitized for the host OS.
func OutputName(id, custom string) string {
	name := strings.TrimSpace(custom)
	if name == "" {
		name = "recording_" + id + ".mp4"
	}
	if !strings.EqualFold(filepath.Ext(name), ".mp4") {
		name += ".mp4"
	}
	return SafeFilename(name)
}

// OutputPath joins outputDir with the sanitized output name.
func OutputPath(outputDir, id, custom string) string {
	return filepath.Join(outputDir, OutputName(id, custom))
}
