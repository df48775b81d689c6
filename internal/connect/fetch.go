package connect

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/backmassage/sessionmux/internal/config"
)

// Kind is the form a source argument takes.
type Kind int

const (
	KindURL     Kind = iota // Meeting URL; archive is downloaded.
	KindArchive             // Local .zip archive.
	KindDir                 // Already extracted directory.
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindArchive:
		return "archive"
	default:
		return "directory"
	}
}

// Source is an identified source argument.
type Source struct {
	Raw       string
	Kind      Kind
	ID        string    // Recording ID (URL) or base name (local).
	Recording Recording // Set for KindURL.
	Path      string    // Absolute path for local sources.
}

// Fetched is a source whose segments are available on disk under Root.
type Fetched struct {
	Source     Source
	Root       string
	ArchiveURL string // Set for KindURL.
	Bytes      int64  // Downloaded bytes (KindURL).
	Files      int    // Extracted files (KindURL, KindArchive).
}

// Fetcher identifies sources and makes their segments available.
type Fetcher struct {
	Resolver   *Resolver
	Downloader *Downloader
}

// NewFetcher wires a Fetcher from cfg. The page lookup is bounded by
// HTTPTimeout as a whole; archive downloads only by HTTPTimeout per
// connection and response header, so long downloads are not cut off.
func NewFetcher(cfg *config.Config, progress io.Writer) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.HTTPTimeout}).DialContext
	transport.ResponseHeaderTimeout = cfg.HTTPTimeout
	return &Fetcher{
		Resolver: &Resolver{Client: &http.Client{Timeout: cfg.HTTPTimeout}},
		Downloader: &Downloader{
			Client:   &http.Client{Transport: transport},
			Attempts: cfg.DownloadRetries,
			Progress: progress,
		},
	}
}

// Identify classifies raw and determines its recording ID. URLs are
// resolved against the meeting page; nothing is downloaded yet.
func (f *Fetcher) Identify(ctx context.Context, raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if IsURL(raw) {
		rec, err := f.Resolver.Resolve(ctx, raw)
		if err != nil {
			return Source{}, err
		}
		return Source{Raw: raw, Kind: KindURL, ID: rec.ID, Recording: rec}, nil
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return Source{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Source{}, fmt.Errorf("source %q is neither a URL nor an existing path: %w", raw, err)
	}
	if fi.IsDir() {
		return Source{Raw: raw, Kind: KindDir, ID: filepath.Base(abs), Path: abs}, nil
	}
	if !strings.EqualFold(filepath.Ext(abs), ".zip") {
		return Source{}, fmt.Errorf("source %q: expected a .zip archive or a directory", raw)
	}
	id := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	return Source{Raw: raw, Kind: KindArchive, ID: id, Path: abs}, nil
}

// Fetch makes src's segments available and returns where. Downloads and
// extractions go under workDir; a directory source is used in place.
func (f *Fetcher) Fetch(ctx context.Context, src Source, workDir string) (*Fetched, error) {
	out := &Fetched{Source: src}
	extractDir := filepath.Join(workDir, "extracted")

	switch src.Kind {
	case KindDir:
		out.Root = src.Path
		return out, nil

	case KindArchive:
		n, err := Extract(src.Path, extractDir)
		if err != nil {
			return nil, err
		}
		out.Root, out.Files = extractDir, n
		return out, nil

	case KindURL:
		archiveURL, err := ArchiveURL(src.Recording)
		if err != nil {
			return nil, err
		}
		out.ArchiveURL = archiveURL
		zipPath := filepath.Join(workDir, "recording.zip")
		n, err := f.Downloader.Download(ctx, archiveURL, zipPath)
		if err != nil {
			return nil, err
		}
		out.Bytes = n
		files, err := Extract(zipPath, extractDir)
		_ = os.Remove(zipPath)
		if err != nil {
			return nil, err
		}
		out.Root, out.Files = extractDir, files
		return out, nil
	}
	return nil, fmt.Errorf("unknown source kind %d", src.Kind)
}

// RetryLogger adapts a printf-style logger to Downloader.OnRetry.
func RetryLogger(logf func(format string, args ...interface{})) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		logf("Download attempt %d failed (%v); retrying in %s", attempt, err, delay)
	}
}
