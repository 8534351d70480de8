package backend

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dedup "github.com/wolfeidau/capture-dedup"
)

// mapBackend is an in-memory Backend for exercising the helpers in this package.
type mapBackend struct {
	mu       sync.Mutex
	rows     map[string]*dedup.Record
	saves    int
	readOnly bool
	saveErr  error
}

func newMapBackend() *mapBackend {
	return &mapBackend{rows: make(map[string]*dedup.Record)}
}

func (m *mapBackend) Start(context.Context) error { return nil }

func (m *mapBackend) Save(_ context.Context, key string, rec *dedup.Record) error {
	if m.readOnly {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rows[key] = rec
	return nil
}

func (m *mapBackend) Lookup(_ context.Context, key string, _ dedup.Capture) (*dedup.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[key], nil
}

func (m *mapBackend) Notify(ctx context.Context, c dedup.Capture, rec dedup.ArchivalRecord) error {
	if m.readOnly {
		return nil
	}
	return NotifySave(ctx, m, c, rec)
}

func (m *mapBackend) ReadOnly() bool { return m.readOnly }

func responseHeader() dedup.RecordHeader {
	return dedup.RecordHeader{
		RecordType: dedup.RecordTypeResponse,
		RecordID:   "<urn:uuid:7f4c1c1e-0c4a-4b1a-8d7c-5b3f5f1d2e11>",
		TargetURI:  "https://example.com/a.css",
		RecordDate: "2021-01-01T00:00:00Z",
	}
}

func TestNotifySave(t *testing.T) {
	ctx := context.Background()

	t.Run("eligible response is saved under digest and bucket", func(t *testing.T) {
		b := newMapBackend()
		c := &dedup.RecordedURL{
			Location: "https://example.com/a.css",
			Digest:   "sha1:ABC",
			Size:     42,
			Metadata: map[string]string{dedup.MetaBucketKey: "coll"},
		}

		require.NoError(t, NotifySave(ctx, b, c, responseHeader()))

		got, err := b.Lookup(ctx, "sha1:ABC|coll", nil)
		require.NoError(t, err)
		assert.Equal(t, &dedup.Record{
			ID:   "<urn:uuid:7f4c1c1e-0c4a-4b1a-8d7c-5b3f5f1d2e11>",
			URL:  "https://example.com/a.css",
			Date: "2021-01-01T00:00:00Z",
		}, got)
	})

	t.Run("non-response record is ignored", func(t *testing.T) {
		b := newMapBackend()
		c := &dedup.RecordedURL{Digest: "sha1:ABC", Size: 42}
		hdr := responseHeader()
		hdr.RecordType = "request"

		require.NoError(t, NotifySave(ctx, b, c, hdr))
		assert.Zero(t, b.saves)
	})

	t.Run("empty payload is ignored", func(t *testing.T) {
		b := newMapBackend()
		c := &dedup.RecordedURL{Digest: "sha1:ABC", Size: 0}

		require.NoError(t, NotifySave(ctx, b, c, responseHeader()))
		assert.Zero(t, b.saves)
	})

	t.Run("invalid bucket is surfaced", func(t *testing.T) {
		b := newMapBackend()
		c := &dedup.RecordedURL{
			Digest:   "sha1:ABC",
			Size:     1,
			Metadata: map[string]string{dedup.MetaBucketKey: "a|b"},
		}

		err := NotifySave(ctx, b, c, responseHeader())
		require.ErrorIs(t, err, dedup.ErrInvalidBucket)
		assert.Zero(t, b.saves)
	})
}
