package naming

import (
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"
)

// maxNameBytes bounds sanitized filenames; most filesystems allow 255.
const maxNameBytes = 200

// invalidChars lists the characters each OS refuses in a filename.
var invalidChars = map[string]string{
	"windows": `<>:"/\|?*`,
	"darwin":  `:/`,
}

// SafeFilename replaces characters the host OS refuses in filenames with
// "_" and shortens long names while keeping their extension.
func SafeFilename(name string) string {
	return safeFilenameFor(runtime.GOOS, name)
}

func safeFilenameFor(goos, name string) string {
	bad, ok := invalidChars[goos]
	if !ok {
		bad = "/"
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(bad, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))

	if name == "" || name == "." || name == ".." {
		return "_"
	}
	if len(name) <= maxNameBytes {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= maxNameBytes {
		ext = ""
	}
	stem := name[:maxNameBytes-len(ext)]
	for !utf8.ValidString(stem) {
		stem = stem[:len(stem)-1]
	}
	return stem + ext
}
