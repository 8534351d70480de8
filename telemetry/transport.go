package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// Outcomes recorded for remote index queries.
//
// A CDX lookup treats every outcome other than OutcomeOK as "no prior
// capture", so the split below is what tells an empty index apart from an
// index that could not be asked.
const (
	OutcomeOK          = "ok"          // 200 with at least one line
	OutcomeEmpty       = "empty"       // 200 with an empty body
	OutcomeNotFound    = "not_found"   // 404
	OutcomeRejected    = "rejected"    // other 4xx
	OutcomeUnavailable = "unavailable" // 5xx
	OutcomeTimeout     = "timeout"
	OutcomeCanceled    = "canceled"
	OutcomeUnreachable = "unreachable" // dial, TLS or protocol failure
	OutcomeTruncated   = "truncated"   // body read failed before EOF
)

// InstrumentedTransport records one upstream fetch metric per remote index
// query. Failed round trips are recorded immediately. Successful ones are
// recorded when the body is closed, with the number of bytes the caller
// consumed.
type InstrumentedTransport struct {
	base     http.RoundTripper
	upstream string
}

// NewInstrumentedTransport wraps base for the named upstream. A nil base
// means http.DefaultTransport.
func NewInstrumentedTransport(base http.RoundTripper, upstream string) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, upstream: upstream}
}

func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f := &fetch{ctx: req.Context(), upstream: t.upstream, start: time.Now()}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		f.finish(failureOutcome(req.Context(), err))
		return nil, err
	}

	f.status = resp.StatusCode
	resp.Body = &countingBody{ReadCloser: resp.Body, fetch: f}
	return resp, nil
}

// fetch accumulates one query and records it exactly once.
type fetch struct {
	ctx      context.Context
	upstream string
	start    time.Time
	status   int
	bytes    int64
	readErr  error
	once     sync.Once
}

func (f *fetch) finish(outcome string) {
	f.once.Do(func() {
		RecordUpstreamFetch(f.ctx, f.upstream, time.Since(f.start), f.bytes, outcome)
	})
}

// responseOutcome classifies a completed response from its status and what
// the caller read of the body.
func (f *fetch) responseOutcome() string {
	switch {
	case f.status == http.StatusNotFound:
		return OutcomeNotFound
	case f.status >= 500:
		return OutcomeUnavailable
	case f.status >= 400:
		return OutcomeRejected
	case f.readErr != nil:
		if o := failureOutcome(f.ctx, f.readErr); o != OutcomeUnreachable {
			return o
		}
		return OutcomeTruncated
	case f.bytes == 0:
		return OutcomeEmpty
	}
	return OutcomeOK
}

// failureOutcome classifies an error from the round trip or the body read.
func failureOutcome(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return OutcomeTimeout
	case ctx.Err() != nil:
		return OutcomeCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeUnreachable
}

type countingBody struct {
	io.ReadCloser
	fetch *fetch
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.fetch.bytes += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && b.fetch.readErr == nil {
		b.fetch.readErr = err
	}
	return n, err
}

func (b *countingBody) Close() error {
	b.fetch.finish(b.fetch.responseOutcome())
	return b.ReadCloser.Close()
}
