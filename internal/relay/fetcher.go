package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"maxrelay/internal/domain"
	"maxrelay/internal/metrics"
)

const (
	defaultFetchTimeout  = 60 * time.Second
	defaultMaxFetchBytes = 50 << 20
	fileNameHeader       = "X-File-Name"
)

// ErrTooLarge is wrapped by a FetchError when a body exceeds the size limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// FetchError reports a failed attachment download. StatusCode is zero for
// transport errors.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetcherConfig tunes the attachment downloader.
type FetcherConfig struct {
	Timeout  time.Duration // per request, including body read
	MaxBytes int64
	Client   *http.Client // optional; replaces the pooled default
}

// Fetcher downloads attachments into memory, one GET per call, no retry.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxFetchBytes
	}
	client := cfg.Client
	if client == nil {
		client = pooledClient(cfg.Timeout)
	}
	return &Fetcher{client: client, maxBytes: cfg.MaxBytes}
}

// pooledClient returns an HTTP client with connection pooling shared by all
// downloads.
func pooledClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Fetch downloads url. The filename comes from the X-File-Name header, then
// the Content-Disposition filename, then fallback.
func (f *Fetcher) Fetch(ctx context.Context, url, fallback string) (domain.Payload, error) {
	start := time.Now()
	defer func() { metrics.FetchSeconds.Observe(time.Since(start).Seconds()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Payload{}, &FetchError{URL: url, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Payload{}, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.Payload{}, &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	if resp.ContentLength > f.maxBytes {
		return domain.Payload{}, &FetchError{URL: url, Err: ErrTooLarge}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return domain.Payload{}, &FetchError{URL: url, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return domain.Payload{}, &FetchError{URL: url, Err: ErrTooLarge}
	}

	return domain.Payload{Bytes: body, Filename: filenameHint(resp.Header, fallback)}, nil
}

func filenameHint(h http.Header, fallback string) string {
	if name := h.Get(fileNameHeader); name != "" {
		return name
	}
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	return fallback
}
