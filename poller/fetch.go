package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"metricsdash/board"
	"metricsdash/metrics"
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Code)
}

// Fetcher issues one GET against the metrics endpoint per call.
type Fetcher struct {
	url       string
	userAgent string
	maxBytes  int64
	client    *http.Client
}

// NewFetcher builds a fetcher. A nil client uses http.DefaultClient;
// maxBytes <= 0 leaves the body unbounded.
func NewFetcher(url, userAgent string, maxBytes int64, client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		url:       url,
		userAgent: userAgent,
		maxBytes:  maxBytes,
		client:    client,
	}
}

func (f *Fetcher) URL() string {
	if f == nil {
		return ""
	}
	return f.url
}

// Fetch performs the request and decodes the payload. Errors carry a
// description fit for display: *StatusError for non-2xx responses, the
// transport error for connection failures, and a decode error otherwise.
func (f *Fetcher) Fetch(ctx context.Context) (board.Fetched, error) {
	if f == nil {
		return board.Fetched{}, fmt.Errorf("nil fetcher")
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return board.Fetched{}, err
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return board.Fetched{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return board.Fetched{}, &StatusError{Code: resp.StatusCode}
	}

	var reader io.Reader = resp.Body
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return board.Fetched{}, err
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return board.Fetched{}, fmt.Errorf("response body exceeds %d bytes", f.maxBytes)
	}
	records, err := metrics.Decode(body)
	if err != nil {
		return board.Fetched{}, fmt.Errorf("invalid metrics payload: %w", err)
	}
	return board.Fetched{
		Records:     records,
		Fingerprint: metrics.Fingerprint(body),
		Bytes:       len(body),
		Latency:     time.Since(start),
	}, nil
}
