package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// upsertScript writes the row hash and reports whether it already existed.
var upsertScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
redis.call('HSET', KEYS[1], 'key', ARGV[1], 'url', ARGV[2], 'date', ARGV[3], 'id', ARGV[4])
return existed
`)

// RedisDriver stores each row as a hash at "<table>:<key>". Sharding and
// replication are properties of the Redis deployment; the table layout is
// recorded in "<table>:_meta" for reference.
type RedisDriver struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// RedisOption configures a RedisDriver.
type RedisOption func(*RedisDriver)

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(d *RedisDriver) {
		d.logger = logger
	}
}

// NewRedisDriver creates a driver over a single node, sentinel or cluster client.
func NewRedisDriver(client redis.UniversalClient, opts ...RedisOption) *RedisDriver {
	d := &RedisDriver{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close closes the client.
func (d *RedisDriver) Close() error {
	return d.client.Close()
}

// ClusterSize counts cluster masters, or returns 1 for a single node.
func (d *RedisDriver) ClusterSize(ctx context.Context) (int, error) {
	cc, ok := d.client.(*redis.ClusterClient)
	if !ok {
		return 1, nil
	}
	var masters atomic.Int64
	err := cc.ForEachMaster(ctx, func(ctx context.Context, _ *redis.Client) error {
		masters.Add(1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("listing cluster masters: %w", err)
	}
	return int(masters.Load()), nil
}

// EnsureDatabase checks the server is reachable; Redis has no databases to create.
func (d *RedisDriver) EnsureDatabase(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// EnsureTable records the table layout the first time it is seen.
func (d *RedisDriver) EnsureTable(ctx context.Context, spec TableSpec) error {
	meta := metaKey(spec.Name)
	created, err := d.client.HSetNX(ctx, meta, "shards", spec.Shards).Result()
	if err != nil {
		return fmt.Errorf("recording table layout: %w", err)
	}
	if !created {
		return nil
	}
	if err := d.client.HSetNX(ctx, meta, "replicas", spec.Replicas).Err(); err != nil {
		return fmt.Errorf("recording table layout: %w", err)
	}
	d.logger.Info("creating redis table", "table", spec.Name, "shards", spec.Shards, "replicas", spec.Replicas)
	return nil
}

// Upsert writes the row hash atomically.
func (d *RedisDriver) Upsert(ctx context.Context, table string, row Row) (WriteResult, error) {
	existed, err := upsertScript.Run(ctx, d.client,
		[]string{rowKey(table, row[ColumnKey])},
		row[ColumnKey], row[ColumnURL], row[ColumnDate], row[ColumnID],
	).Int()
	if err != nil {
		return WriteResult{}, err
	}
	if existed == 1 {
		return WriteResult{Replaced: 1}, nil
	}
	return WriteResult{Inserted: 1}, nil
}

// Get returns the row hash, or nil if the key is absent.
func (d *RedisDriver) Get(ctx context.Context, table, key string) (Row, error) {
	fields, err := d.client.HGetAll(ctx, rowKey(table, key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return Row(fields), nil
}

// Rows and the layout hash live under separate prefixes so that no row key
// can address the layout.
func rowKey(table, key string) string {
	return table + ":row:" + key
}

func metaKey(table string) string {
	return table + ":meta"
}

var _ Driver = (*RedisDriver)(nil)
