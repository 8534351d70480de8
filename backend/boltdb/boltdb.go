// Package boltdb implements the dedup index on a local bbolt file.
package boltdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"go.etcd.io/bbolt"

	dedup "github.com/wolfeidau/capture-dedup"
	"github.com/wolfeidau/capture-dedup/backend"
)

const (
	// MaxKeyLength is the longest key, in characters, the store accepts.
	MaxKeyLength = 300

	// MaxValueLength is the longest encoded value, in characters, the store accepts.
	MaxValueLength = 4000
)

// bucketDedup holds key -> JSON encoded dedup.Record.
var bucketDedup = []byte("dedup")

// ErrNotStarted is returned when Save or Lookup is called before Start.
var ErrNotStarted = errors.New("boltdb: store not started")

// DB is the embedded dedup index.
type DB struct {
	path    string
	logger  *slog.Logger
	timeout time.Duration
	noSync  bool

	mu sync.RWMutex
	db *bbolt.DB
}

// Option configures a DB instance.
type Option func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithTimeout sets how long Start waits for the file lock.
func WithTimeout(timeout time.Duration) Option {
	return func(d *DB) {
		d.timeout = timeout
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// New creates a DB for the file at path. Nothing is opened until Start.
func New(path string, opts ...Option) *DB {
	d := &DB{
		path:    path,
		logger:  slog.Default(),
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start opens the database file, creating it if needed, and ensures the
// dedup bucket exists. Calling Start on an open DB only re-checks the bucket.
func (d *DB) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		if _, err := os.Stat(d.path); err == nil {
			d.logger.Info("opening existing deduplication database", "path", d.path)
		} else if errors.Is(err, fs.ErrNotExist) {
			d.logger.Info("creating new deduplication database", "path", d.path)
		} else {
			return fmt.Errorf("checking database file: %w", err)
		}

		db, err := bbolt.Open(d.path, 0o600, &bbolt.Options{
			Timeout: d.timeout,
			NoSync:  d.noSync,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		d.db = db
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDedup); err != nil {
			return fmt.Errorf("creating bucket %s: %w", bucketDedup, err)
		}
		return nil
	})
}

// Close closes the database and releases the file lock.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing deduplication database", "path", d.path)
	err := d.db.Close()
	d.db = nil
	return err
}

// handle returns the open bbolt handle.
func (d *DB) handle() (*bbolt.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrNotStarted
	}
	return d.db, nil
}

// Save stores rec under key, replacing any existing value.
func (d *DB) Save(_ context.Context, key string, rec *dedup.Record) error {
	if err := dedup.CheckKeyLength(key, MaxKeyLength); err != nil {
		return err
	}
	value, err := dedup.EncodeValue(rec)
	if err != nil {
		return err
	}
	if n := utf8.RuneCount(value); n > MaxValueLength {
		return fmt.Errorf("value of %d characters, limit %d: %w", n, MaxValueLength, dedup.ErrValueTooLarge)
	}

	db, err := d.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDedup)
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", bucketDedup)
		}
		if err := bucket.Put([]byte(key), value); err != nil {
			return fmt.Errorf("putting record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.Debug("dedup db saved", "key", key, "value", string(value))
	return nil
}

// Lookup returns the record stored under key, or nil if there is none.
func (d *DB) Lookup(_ context.Context, key string, _ dedup.Capture) (*dedup.Record, error) {
	if err := dedup.CheckKeyLength(key, MaxKeyLength); err != nil {
		return nil, err
	}
	db, err := d.handle()
	if err != nil {
		return nil, err
	}

	var value []byte
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDedup)
		if bucket == nil {
			return nil
		}
		if val := bucket.Get([]byte(key)); val != nil {
			// val is only valid for the life of the transaction
			value = make([]byte, len(val))
			copy(value, val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}

	rec, err := dedup.DecodeValue(value)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", key, err)
	}

	d.logger.Debug("dedup db lookup", "key", key, "found", rec != nil)
	return rec, nil
}

// Notify indexes an eligible finalized record.
func (d *DB) Notify(ctx context.Context, capture dedup.Capture, rec dedup.ArchivalRecord) error {
	return backend.NotifySave(ctx, d, capture, rec)
}

// Stats returns the number of indexed keys.
func (d *DB) Stats(_ context.Context) (backend.Stats, error) {
	db, err := d.handle()
	if err != nil {
		return backend.Stats{}, err
	}
	var stats backend.Stats
	err = db.View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket(bucketDedup); bucket != nil {
			stats.Keys = int64(bucket.Stats().KeyN)
		}
		return nil
	})
	return stats, err
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

var _ backend.Backend = (*DB)(nil)
