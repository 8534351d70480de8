package backend

import (
	"context"
	"errors"
	"time"

	dedup "github.com/wolfeidau/capture-dedup"
	"github.com/wolfeidau/capture-dedup/telemetry"
)

// InstrumentedBackend wraps a Backend with metrics recording.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

// Name returns the backend name used in metric attributes.
func (ib *InstrumentedBackend) Name() string {
	return ib.name
}

func (ib *InstrumentedBackend) Start(ctx context.Context) error {
	start := time.Now()
	err := ib.backend.Start(ctx)
	telemetry.RecordBackendOp(ctx, ib.name, "start", outcomeFromError(err), time.Since(start))
	return err
}

func (ib *InstrumentedBackend) Save(ctx context.Context, key string, rec *dedup.Record) error {
	start := time.Now()
	err := ib.backend.Save(ctx, key, rec)
	telemetry.RecordBackendOp(ctx, ib.name, "save", outcomeFromError(err), time.Since(start))
	return err
}

func (ib *InstrumentedBackend) Lookup(ctx context.Context, key string, capture dedup.Capture) (*dedup.Record, error) {
	start := time.Now()
	rec, err := ib.backend.Lookup(ctx, key, capture)
	outcome := outcomeFromError(err)
	if err == nil && rec == nil {
		outcome = "absent"
	}
	telemetry.RecordBackendOp(ctx, ib.name, "lookup", outcome, time.Since(start))
	return rec, err
}

// Notify applies the eligibility rule itself and routes the save through the
// wrapper so it is recorded. Read-only backends get the call unchanged.
func (ib *InstrumentedBackend) Notify(ctx context.Context, capture dedup.Capture, rec dedup.ArchivalRecord) error {
	if ro, ok := ib.backend.(readOnly); ok && ro.ReadOnly() {
		return ib.backend.Notify(ctx, capture, rec)
	}
	return NotifySave(ctx, ib, capture, rec)
}

// Stats delegates to the underlying backend if it implements StatsBackend.
func (ib *InstrumentedBackend) Stats(ctx context.Context) (Stats, error) {
	sb, ok := ib.backend.(StatsBackend)
	if !ok {
		return Stats{}, ErrStatsUnsupported
	}
	start := time.Now()
	stats, err := sb.Stats(ctx)
	telemetry.RecordBackendOp(ctx, ib.name, "stats", outcomeFromError(err), time.Since(start))
	return stats, err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

// readOnly is implemented by backends whose Save and Notify do nothing.
type readOnly interface {
	ReadOnly() bool
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, dedup.ErrIntegrity):
		return "integrity_error"
	case errors.Is(err, dedup.ErrEncoding):
		return "encoding_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

var (
	_ Backend      = (*InstrumentedBackend)(nil)
	_ StatsBackend = (*InstrumentedBackend)(nil)
)
