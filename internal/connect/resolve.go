package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// userAgent is sent with every request; some conference servers refuse
// clients that look like scripts.
const userAgent = "Mozilla/5.0"

// maxPageBytes bounds how much of the meeting page is scanned for the ID.
const maxPageBytes = 4 << 20

var (
	reScoID   = regexp.MustCompile(`"sco-id"\s*:\s*"(\d+)"`)
	rePathID  = regexp.MustCompile(`/([A-Za-z0-9_-]+)/?$`)
	ErrNoID   = errors.New("cannot determine recording ID from URL")
	errNotURL = errors.New("not an http(s) URL")
)

// Recording identifies one server-side recording.
type Recording struct {
	PageURL string
	ID      string
	// FromPage is true when ID is the numeric sco-id found in the meeting
	// page; those archives live at the server root.
	FromPage bool
	// PageErr is why the page lookup failed when the ID came from the URL
	// path instead. Informational only.
	PageErr error
}

// Resolver discovers recording IDs.
type Resolver struct {
	Client *http.Client
}

// Resolve fetches the meeting page and looks for its "sco-id". When the
// page cannot be fetched or carries no ID, the last path segment of the URL
// is used instead. An error is returned only when neither works.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (Recording, error) {
	u, err := parseHTTPURL(pageURL)
	if err != nil {
		return Recording{}, err
	}
	rec := Recording{PageURL: pageURL}

	id, pageErr := r.scoID(ctx, pageURL)
	if id != "" {
		rec.ID, rec.FromPage = id, true
		return rec, nil
	}
	if ctx.Err() != nil {
		return Recording{}, ctx.Err()
	}

	m := rePathID.FindStringSubmatch(u.Path)
	if m == nil {
		if pageErr != nil {
			return Recording{}, fmt.Errorf("%w (page lookup: %v)", ErrNoID, pageErr)
		}
		return Recording{}, ErrNoID
	}
	rec.ID = m[1]
	rec.PageErr = pageErr
	return rec, nil
}

func (r *Resolver) scoID(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return FindScoID(string(body)), nil
}

// FindScoID extracts the numeric "sco-id" from a meeting page, or "".
func FindScoID(page string) string {
	if m := reScoID.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

// ArchiveURL returns the download URL of rec's zip archive:
// {scheme}://{host}/[{id}/]output/{id}.zip?download=zip. The id prefix is
// present only when the ID came from the URL path.
func ArchiveURL(rec Recording) (string, error) {
	u, err := parseHTTPURL(rec.PageURL)
	if err != nil {
		return "", err
	}
	if rec.ID == "" {
		return "", ErrNoID
	}
	prefix := ""
	if !rec.FromPage {
		prefix = rec.ID + "/"
	}
	return fmt.Sprintf("%s://%s/%soutput/%s.zip?download=zip", u.Scheme, u.Host, prefix, rec.ID), nil
}

// IsURL reports whether s looks like an http(s) URL.
func IsURL(s string) bool {
	_, err := parseHTTPURL(s)
	return err == nil
}

func parseHTTPURL(s string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q: %w", s, errNotURL)
	}
	return u, nil
}
