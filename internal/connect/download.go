package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/backmassage/sessionmux/internal/display"
)

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether retrying the request could help.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// Downloader streams a URL to disk, retrying transient failures with
// exponential backoff.
type Downloader struct {
	Client    *http.Client
	Attempts  int           // Total attempts; default 3.
	BaseDelay time.Duration // First backoff; doubles each retry. Default 2s.
	Progress  io.Writer     // Where to draw the progress line; nil = silent.
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Download writes url to dest and returns the byte count. Data goes to
// dest+".part" first and is renamed only when the body was read completely.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	attempts := d.Attempts
	if attempts < 1 {
		attempts = 3
	}
	base := d.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		n, err := d.once(ctx, url, dest)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		var se *HTTPStatusError
		if errors.As(err, &se) && !se.Temporary() {
			return 0, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := base * time.Duration(1<<uint(attempt))
		if d.OnRetry != nil {
			d.OnRetry(attempt+1, delay, err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return 0, fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}

func (d *Downloader) once(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	defer os.Remove(part)

	prog := display.NewProgress("Downloading", resp.ContentLength, d.Progress)
	n, copyErr := io.Copy(io.MultiWriter(f, prog), resp.Body)
	prog.Done()
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return 0, copyErr
	case closeErr != nil:
		return 0, closeErr
	case resp.ContentLength > 0 && n != resp.ContentLength:
		return 0, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := os.Rename(part, dest); err != nil {
		return 0, err
	}
	return n, nil
}
