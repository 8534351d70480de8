package cluster

import (
	"context"
	"fmt"

	dedup "github.com/wolfeidau/capture-dedup"
)

// Row column names. Each record is stored as one row of text columns.
const (
	ColumnKey  = "key"
	ColumnURL  = "url"
	ColumnDate = "date"
	ColumnID   = "id"
)

// TableSpec describes the replicated table holding the index.
type TableSpec struct {
	Name     string
	Shards   int
	Replicas int
}

// Row is a record in the store's native text form, keyed by column name.
type Row map[string]string

// Driver adapts a clustered store to the distributed backend.
type Driver interface {
	// ClusterSize returns the number of servers in the cluster.
	ClusterSize(ctx context.Context) (int, error)

	// EnsureDatabase creates the target database if it does not exist.
	EnsureDatabase(ctx context.Context) error

	// EnsureTable creates the table if it does not exist. An existing table
	// is left as is.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// Upsert inserts row or replaces the row with the same key and reports
	// what the store did.
	Upsert(ctx context.Context, table string, row Row) (WriteResult, error)

	// Get returns the row with the given key, or nil if there is none.
	Get(ctx context.Context, table, key string) (Row, error)
}

func rowOf(key string, rec *dedup.Record) Row {
	return Row{
		ColumnKey:  key,
		ColumnURL:  rec.URL,
		ColumnDate: rec.Date,
		ColumnID:   rec.ID,
	}
}

func recordOf(row Row) (*dedup.Record, error) {
	rec := &dedup.Record{
		ID:   row[ColumnID],
		URL:  row[ColumnURL],
		Date: row[ColumnDate],
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("row %q: %w", row[ColumnKey], err)
	}
	return rec, nil
}
