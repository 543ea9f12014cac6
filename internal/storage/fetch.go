package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Download failures, classified so callers can decide whether to retry.
var (
	ErrDownloadFailed  = errors.New("download failed")
	ErrDownloadTimeout = errors.New("timeout while downloading")
	ErrInvalidURL      = errors.New("invalid document url")
)

// maxDownloadBytes bounds a single fetched document.
const maxDownloadBytes = 100 << 20

// Fetcher downloads documents by URL.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch GETs rawURL and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrDownloadTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrDownloadTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("%w: document larger than %d bytes", ErrDownloadFailed, maxDownloadBytes)
	}
	return data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// CacheBust appends a t=<unix millis> query parameter so CDNs and proxies do
// not serve a stale copy of a re-uploaded object with a similar name.
func CacheBust(rawURL string, now time.Time) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}
