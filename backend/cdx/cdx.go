// Package cdx looks up prior captures on a remote CDX server.
//
// The backend is read-only: Save and Notify do nothing and the index is
// maintained by the archive that serves the CDX API.
package cdx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	dedup "github.com/wolfeidau/capture-dedup"
	"github.com/wolfeidau/capture-dedup/backend"
	"github.com/wolfeidau/capture-dedup/telemetry"
)

const (
	// DefaultURL is the Wayback Machine CDX endpoint.
	DefaultURL = "https://web.archive.org/cdx/search/cdx"

	// DefaultTimeout bounds a single CDX query.
	DefaultTimeout = 30 * time.Second

	upstreamName = "cdx"
)

// ErrCaptureRequired is returned by Lookup when no capture is supplied; the
// query is made by URL.
var ErrCaptureRequired = errors.New("cdx: lookup requires a capture")

// Backend queries a CDX server for a capture of the same URL and digest.
type Backend struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithURL sets the CDX query endpoint.
func WithURL(u string) Option {
	return func(b *Backend) {
		b.url = u
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.client = c
	}
}

// WithTimeout bounds each query.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates a CDX backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		url:     DefaultURL,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = &http.Client{
			Transport: gzhttp.Transport(telemetry.NewInstrumentedTransport(nil, upstreamName)),
		}
	}
	return b
}

// URL returns the query endpoint.
func (b *Backend) URL() string { return b.url }

// ReadOnly reports that the backend never stores records.
func (b *Backend) ReadOnly() bool { return true }

// Start does nothing.
func (b *Backend) Start(context.Context) error { return nil }

// Save does nothing.
func (b *Backend) Save(context.Context, string, *dedup.Record) error { return nil }

// Notify does nothing.
func (b *Backend) Notify(context.Context, dedup.Capture, dedup.ArchivalRecord) error { return nil }

// Lookup asks the CDX server for captures of the capture's URL and returns
// the first whose digest matches the key. Unreachable servers and error
// responses are reported as absent.
func (b *Backend) Lookup(ctx context.Context, key string, capture dedup.Capture) (*dedup.Record, error) {
	if capture == nil {
		return nil, ErrCaptureRequired
	}
	target := capture.URL()
	digest, _ := dedup.SplitKey(key)
	want := dedup.StripAlgorithm(digest)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.queryURL(target), nil)
	if err != nil {
		return nil, fmt.Errorf("building cdx request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("cdx request failed", "url", target, "error", err)
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b.logger.Warn("cdx request unsuccessful", "url", target, "status", resp.StatusCode)
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	ts, found, err := scanDigest(resp.Body, want)
	if err != nil {
		if errors.Is(err, dedup.ErrEncoding) {
			return nil, err
		}
		b.logger.Error("reading cdx response failed", "url", target, "error", err)
		return nil, nil
	}
	if !found {
		b.logger.Debug("cdx lookup", "url", target, "digest", want, "found", false)
		return nil, nil
	}

	t, err := ParseTimestamp(ts)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("cdx lookup", "url", target, "digest", want, "found", true, "timestamp", ts)

	// CDX results carry no record id; the URL stands in for it.
	return &dedup.Record{ID: target, URL: target, Date: FormatDate(t)}, nil
}

func (b *Backend) queryURL(target string) string {
	q := url.Values{}
	q.Set("url", target)
	q.Set("fl", "timestamp,digest")
	q.Set("limit", "-1")

	sep := "?"
	if strings.Contains(b.url, "?") {
		sep = "&"
	}
	return b.url + sep + q.Encode()
}

// scanDigest returns the timestamp of the first "<timestamp> <digest>" line
// whose digest equals want.
func scanDigest(r io.Reader, want string) (string, bool, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, " ")
		if len(fields) != 2 {
			return "", false, fmt.Errorf("cdx line %q: want timestamp and digest: %w", line, dedup.ErrEncoding)
		}
		if fields[1] == want {
			return fields[0], true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}

var _ backend.Backend = (*Backend)(nil)
