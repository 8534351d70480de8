package backend

import (
	"context"
	"hash/maphash"
	"log/slog"
	"strconv"
	"sync/atomic"

	dedup "github.com/wolfeidau/capture-dedup"
	"golang.org/x/sync/singleflight"
)

// CoalescedBackend collapses concurrent lookups of the same key into a single
// backend call.
//
// The shared call runs on a context detached from any single caller; a caller
// whose context ends stops waiting but the call continues for the others.
//
// A lookup that starts after a Save or Notify for its key has returned never
// joins a call that started before it.
type CoalescedBackend struct {
	Backend
	group  singleflight.Group
	logger *slog.Logger

	// writes is bumped after every save, striped by key hash.
	seed   maphash.Seed
	writes [256]atomic.Uint64
}

// CoalesceOption configures a CoalescedBackend.
type CoalesceOption func(*CoalescedBackend)

// WithCoalesceLogger sets the logger.
func WithCoalesceLogger(logger *slog.Logger) CoalesceOption {
	return func(c *CoalescedBackend) {
		c.logger = logger
	}
}

// NewCoalescedBackend wraps b.
func NewCoalescedBackend(b Backend, opts ...CoalesceOption) *CoalescedBackend {
	c := &CoalescedBackend{
		Backend: b,
		logger:  slog.Default(),
		seed:    maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup shares one backend lookup between concurrent callers asking for the
// same key and capture URL. Each caller gets its own copy of the record.
func (c *CoalescedBackend) Lookup(ctx context.Context, key string, capture dedup.Capture) (*dedup.Record, error) {
	flight := key + "\x00" + strconv.FormatUint(c.stripe(key).Load(), 10)
	if capture != nil {
		// backends that query by URL may answer differently per URL
		flight += "\x00" + capture.URL()
	}

	ch := c.group.DoChan(flight, func() (any, error) {
		return c.Backend.Lookup(context.WithoutCancel(ctx), key, capture)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("dedup lookup shared", "key", key)
		}
		rec, _ := res.Val.(*dedup.Record)
		if rec == nil {
			return nil, nil
		}
		cp := *rec
		return &cp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Save writes through to the wrapped backend. Lookups started afterwards
// query the backend again.
func (c *CoalescedBackend) Save(ctx context.Context, key string, rec *dedup.Record) error {
	defer c.stripe(key).Add(1)
	return c.Backend.Save(ctx, key, rec)
}

// Notify hands the capture to the wrapped backend. Lookups for the capture's
// key started afterwards query the backend again.
func (c *CoalescedBackend) Notify(ctx context.Context, capture dedup.Capture, rec dedup.ArchivalRecord) error {
	err := c.Backend.Notify(ctx, capture, rec)
	if dedup.Eligible(capture, rec) {
		if key, kerr := dedup.KeyOf(capture); kerr == nil {
			c.stripe(key).Add(1)
		}
	}
	return err
}

func (c *CoalescedBackend) stripe(key string) *atomic.Uint64 {
	return &c.writes[maphash.String(c.seed, key)%uint64(len(c.writes))]
}

// ReadOnly reports whether the wrapped backend is read-only.
func (c *CoalescedBackend) ReadOnly() bool {
	ro, ok := c.Backend.(readOnly)
	return ok && ro.ReadOnly()
}

// Stats delegates to the wrapped backend if it implements StatsBackend.
func (c *CoalescedBackend) Stats(ctx context.Context) (Stats, error) {
	sb, ok := c.Backend.(StatsBackend)
	if !ok {
		return Stats{}, ErrStatsUnsupported
	}
	return sb.Stats(ctx)
}

// Unwrap returns the wrapped backend.
func (c *CoalescedBackend) Unwrap() Backend {
	return c.Backend
}

var (
	_ Backend      = (*CoalescedBackend)(nil)
	_ StatsBackend = (*CoalescedBackend)(nil)
)
