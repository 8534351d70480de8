// Package cluster implements the dedup index on a clustered, replicated table.
//
// The store itself is reached through a Driver; PostgresDriver and RedisDriver
// are provided. Every save is checked against the store's write
// acknowledgement and anything other than a single applied row fails.
package cluster

import (
	"context"
	"fmt"
	"log/slog"

	dedup "github.com/wolfeidau/capture-dedup"
	"github.com/wolfeidau/capture-dedup/backend"
)

// DefaultTable is the table name used when none is configured.
const DefaultTable = "dedup"

// maxDefaultReplicas caps the default replica count.
const maxDefaultReplicas = 3

// Backend is the distributed dedup index.
type Backend struct {
	driver   Driver
	logger   *slog.Logger
	table    string
	shards   int
	replicas int
}

// Option configures a Backend.
type Option func(*Backend)

// WithTable sets the table name.
func WithTable(name string) Option {
	return func(b *Backend) {
		b.table = name
	}
}

// WithShards sets the shard count. Zero means one shard per server.
func WithShards(n int) Option {
	return func(b *Backend) {
		b.shards = n
	}
}

// WithReplicas sets the replica count. Zero means min(3, servers).
func WithReplicas(n int) Option {
	return func(b *Backend) {
		b.replicas = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates the backend and provisions its database and table.
func New(ctx context.Context, driver Driver, opts ...Option) (*Backend, error) {
	b := &Backend{
		driver: driver,
		logger: slog.Default(),
		table:  DefaultTable,
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.driver.EnsureDatabase(ctx); err != nil {
		return nil, fmt.Errorf("ensuring database: %w", err)
	}
	if err := b.resolveLayout(ctx); err != nil {
		return nil, err
	}
	if err := b.driver.EnsureTable(ctx, b.Spec()); err != nil {
		return nil, fmt.Errorf("ensuring table %s: %w", b.table, err)
	}
	return b, nil
}

// resolveLayout fills in shard and replica counts left unset from the
// cluster size.
func (b *Backend) resolveLayout(ctx context.Context) error {
	if b.shards > 0 && b.replicas > 0 {
		return nil
	}
	servers, err := b.driver.ClusterSize(ctx)
	if err != nil {
		return fmt.Errorf("reading cluster size: %w: %w", dedup.ErrTransport, err)
	}
	if servers < 1 {
		servers = 1
	}
	if b.shards <= 0 {
		b.shards = servers
	}
	if b.replicas <= 0 {
		b.replicas = min(maxDefaultReplicas, servers)
	}
	return nil
}

// Spec returns the table layout the backend provisions.
func (b *Backend) Spec() TableSpec {
	return TableSpec{Name: b.table, Shards: b.shards, Replicas: b.replicas}
}

// Start re-runs provisioning; the table normally exists from New.
func (b *Backend) Start(ctx context.Context) error {
	if err := b.driver.EnsureDatabase(ctx); err != nil {
		return fmt.Errorf("ensuring database: %w", err)
	}
	if err := b.driver.EnsureTable(ctx, b.Spec()); err != nil {
		return fmt.Errorf("ensuring table %s: %w", b.table, err)
	}
	return nil
}

// Save upserts rec under key and verifies the store applied exactly one row.
func (b *Backend) Save(ctx context.Context, key string, rec *dedup.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	row := rowOf(key, rec)

	result, err := b.driver.Upsert(ctx, b.table, row)
	if err != nil {
		return fmt.Errorf("saving %q: %w: %w", key, dedup.ErrTransport, err)
	}
	if err := result.Verify(); err != nil {
		return fmt.Errorf("saving %q: %w", key, err)
	}

	b.logger.Debug("dedup db saved", "key", key, "url", rec.URL, "result", result.String())
	return nil
}

// Lookup returns the record stored under key, or nil if there is none.
func (b *Backend) Lookup(ctx context.Context, key string, _ dedup.Capture) (*dedup.Record, error) {
	row, err := b.driver.Get(ctx, b.table, key)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w: %w", key, dedup.ErrTransport, err)
	}
	if row == nil {
		b.logger.Debug("dedup db lookup", "key", key, "found", false)
		return nil, nil
	}

	rec, err := recordOf(row)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("dedup db lookup", "key", key, "found", true)
	return rec, nil
}

// Notify indexes an eligible finalized record.
func (b *Backend) Notify(ctx context.Context, capture dedup.Capture, rec dedup.ArchivalRecord) error {
	return backend.NotifySave(ctx, b, capture, rec)
}

var _ backend.Backend = (*Backend)(nil)
