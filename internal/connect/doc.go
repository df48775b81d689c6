// Package connect obtains the raw segments of a recording: it discovers
// the recording ID behind a meeting URL, derives the archive URL, downloads
// the archive with retries and extracts it safely. Local archives and
// already-extracted directories are accepted as sources too.
package connect
