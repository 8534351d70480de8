// Package backend defines the storage contract shared by the dedup index
// implementations.
package backend

import (
	"context"
	"errors"
	"fmt"

	dedup "github.com/wolfeidau/capture-dedup"
)

// ErrStatsUnsupported is returned by Stats on backends that cannot report them.
var ErrStatsUnsupported = errors.New("backend does not report stats")

// Backend is a dedup index store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Start provisions the store (database, table, bucket) if absent.
	// It is idempotent and never drops or migrates existing data.
	Start(ctx context.Context) error

	// Save stores rec under key, replacing any existing value.
	Save(ctx context.Context, key string, rec *dedup.Record) error

	// Lookup returns the record stored under key, or nil if there is none.
	// A missing record is not an error. The capture is the in-flight capture
	// the lookup is made for; backends that only need the key ignore it.
	Lookup(ctx context.Context, key string, capture dedup.Capture) (*dedup.Record, error)

	// Notify is called once a capture's archival record is finalized.
	// Writable backends index eligible records; read-only backends do nothing.
	Notify(ctx context.Context, capture dedup.Capture, rec dedup.ArchivalRecord) error
}

// Saver is the write half of Backend used by NotifySave.
type Saver interface {
	Save(ctx context.Context, key string, rec *dedup.Record) error
}

// NotifySave applies the eligibility rule to a finalized record and saves it
// under the capture's digest and bucket. Ineligible records are ignored.
func NotifySave(ctx context.Context, s Saver, capture dedup.Capture, rec dedup.ArchivalRecord) error {
	if !dedup.Eligible(capture, rec) {
		return nil
	}
	key, err := dedup.KeyOf(capture)
	if err != nil {
		return fmt.Errorf("building key for %s: %w", capture.URL(), err)
	}
	return s.Save(ctx, key, dedup.RecordOf(rec))
}

// Stats summarizes the contents of a store.
type Stats struct {
	Keys int64 `json:"keys"`
}

// StatsBackend is implemented by backends that can report Stats.
type StatsBackend interface {
	Stats(ctx context.Context) (Stats, error)
}
