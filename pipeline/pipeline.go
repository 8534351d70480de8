// Package pipeline connects a capture pipeline to a dedup backend.
//
// Before a payload is written the pipeline calls Decorate to learn whether an
// identical payload was already archived; once the archival record is
// finalized it calls Notify so the record can be found by later captures.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	dedup "github.com/wolfeidau/capture-dedup"
	"github.com/wolfeidau/capture-dedup/backend"
	"github.com/wolfeidau/capture-dedup/telemetry"
)

// Index dispatches pipeline events to a backend.
type Index struct {
	backend backend.Backend
	name    string
	logger  *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// WithName sets the backend name used in metrics. It defaults to the
// backend's own name when it has one.
func WithName(name string) Option {
	return func(ix *Index) {
		ix.name = name
	}
}

// New creates an Index over b.
func New(b backend.Backend, opts ...Option) *Index {
	ix := &Index{
		backend: b,
		logger:  slog.Default(),
	}
	if named, ok := b.(interface{ Name() string }); ok {
		ix.name = named.Name()
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.name == "" {
		ix.name = "unknown"
	}
	ix.logger = ix.logger.With("component", "dedup", "backend", ix.name)
	return ix
}

// Backend returns the underlying backend.
func (ix *Index) Backend() backend.Backend { return ix.backend }

// Start provisions the backend.
func (ix *Index) Start(ctx context.Context) error {
	if err := ix.backend.Start(ctx); err != nil {
		return fmt.Errorf("starting %s backend: %w", ix.name, err)
	}
	return nil
}

// Decorate looks up a prior capture of the same payload and attaches the
// result to the capture. Captures without a payload or digest are left
// untouched. A miss is not an error.
func (ix *Index) Decorate(ctx context.Context, capture dedup.Capture) error {
	if capture.PayloadSize() <= 0 || capture.PayloadDigest() == "" {
		return nil
	}
	rec, err := ix.Lookup(ctx, capture)
	if err != nil {
		return fmt.Errorf("decorating %s: %w", capture.URL(), err)
	}
	capture.SetDedupInfo(rec)
	return nil
}

// Lookup returns the prior capture recorded for the capture's digest and
// bucket, or nil if there is none. Unlike Decorate it does not check the
// payload size.
func (ix *Index) Lookup(ctx context.Context, capture dedup.Capture) (*dedup.Record, error) {
	key, err := dedup.KeyOf(capture)
	if err != nil {
		telemetry.RecordLookup(ctx, ix.name, telemetry.LookupError)
		return nil, err
	}

	rec, err := ix.backend.Lookup(ctx, key, capture)
	if err != nil {
		telemetry.RecordLookup(ctx, ix.name, telemetry.LookupError)
		return nil, err
	}

	if rec == nil {
		telemetry.RecordLookup(ctx, ix.name, telemetry.LookupMiss)
		ix.logger.Debug("dedup miss", "url", capture.URL(), "key", key)
		return nil, nil
	}

	telemetry.RecordLookup(ctx, ix.name, telemetry.LookupHit)
	ix.logger.Debug("dedup hit", "url", capture.URL(), "key", key, "prior_url", rec.URL, "prior_date", rec.Date)
	return rec, nil
}

// Name returns the backend name used in metrics.
func (ix *Index) Name() string { return ix.name }

// Notify hands a finalized archival record to the backend.
func (ix *Index) Notify(ctx context.Context, capture dedup.Capture, rec dedup.ArchivalRecord) error {
	if err := ix.backend.Notify(ctx, capture, rec); err != nil {
		return fmt.Errorf("notifying %s: %w", capture.URL(), err)
	}
	return nil
}
