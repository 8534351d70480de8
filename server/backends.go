package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfeidau/capture-dedup/backend"
	"github.com/wolfeidau/capture-dedup/backend/boltdb"
	"github.com/wolfeidau/capture-dedup/backend/cdx"
	"github.com/wolfeidau/capture-dedup/backend/cluster"
)

// Backend kinds accepted by OpenBackend.
const (
	KindBoltDB   = "boltdb"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindCDX      = "cdx"
)

// ErrUnknownBackend is returned by OpenBackend for an unsupported kind.
var ErrUnknownBackend = errors.New("unknown backend")

// BackendConfig selects and configures a dedup backend.
type BackendConfig struct {
	// Kind is one of boltdb, postgres, redis or cdx.
	Kind string

	// BoltPath is the database file of the boltdb backend.
	BoltPath string

	// BoltNoSync skips fsync after each write.
	BoltNoSync bool

	// PostgresURL is the connection string of the postgres backend.
	PostgresURL string

	// RedisAddrs lists the redis nodes. More than one address selects a
	// cluster client.
	RedisAddrs []string

	// RedisPassword authenticates to redis (optional).
	RedisPassword string

	// Table, Shards and Replicas describe the clustered table.
	// Zero shards or replicas are derived from the cluster size.
	Table    string
	Shards   int
	Replicas int

	// CDXURL is the query endpoint of the cdx backend.
	CDXURL string

	// CDXTimeout bounds each cdx query.
	CDXTimeout time.Duration

	// Coalesce shares one backend lookup between concurrent identical lookups.
	Coalesce bool
}

// OpenBackend creates the configured backend wrapped with metrics. The
// returned close function releases its resources.
func OpenBackend(ctx context.Context, cfg BackendConfig, logger *slog.Logger) (*backend.InstrumentedBackend, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backend", "backend", cfg.Kind)

	switch cfg.Kind {
	case KindBoltDB:
		if cfg.BoltPath == "" {
			return nil, nil, errors.New("boltdb backend requires a path")
		}
		db := boltdb.New(cfg.BoltPath,
			boltdb.WithLogger(logger),
			boltdb.WithNoSync(cfg.BoltNoSync),
		)
		return wrap(db, cfg, logger), db.Close, nil

	case KindPostgres:
		driver, err := cluster.NewPostgresDriver(ctx, cfg.PostgresURL, cluster.WithPostgresLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		b, err := cluster.New(ctx, driver, clusterOptions(cfg, logger)...)
		if err != nil {
			driver.Close()
			return nil, nil, err
		}
		return wrap(b, cfg, logger), func() error { driver.Close(); return nil }, nil

	case KindRedis:
		if len(cfg.RedisAddrs) == 0 {
			return nil, nil, errors.New("redis backend requires at least one address")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.RedisAddrs,
			Password: cfg.RedisPassword,
		})
		driver := cluster.NewRedisDriver(client, cluster.WithRedisLogger(logger))
		b, err := cluster.New(ctx, driver, clusterOptions(cfg, logger)...)
		if err != nil {
			_ = driver.Close()
			return nil, nil, err
		}
		return wrap(b, cfg, logger), driver.Close, nil

	case KindCDX:
		opts := []cdx.Option{cdx.WithLogger(logger)}
		if cfg.CDXURL != "" {
			opts = append(opts, cdx.WithURL(cfg.CDXURL))
		}
		if cfg.CDXTimeout > 0 {
			opts = append(opts, cdx.WithTimeout(cfg.CDXTimeout))
		}
		return wrap(cdx.New(opts...), cfg, logger), func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Kind)
}

func wrap(b backend.Backend, cfg BackendConfig, logger *slog.Logger) *backend.InstrumentedBackend {
	if cfg.Coalesce {
		b = backend.NewCoalescedBackend(b, backend.WithCoalesceLogger(logger))
	}
	return backend.NewInstrumentedBackend(b, cfg.Kind)
}

func clusterOptions(cfg BackendConfig, logger *slog.Logger) []cluster.Option {
	opts := []cluster.Option{
		cluster.WithLogger(logger),
		cluster.WithShards(cfg.Shards),
		cluster.WithReplicas(cfg.Replicas),
	}
	if cfg.Table != "" {
		opts = append(opts, cluster.WithTable(cfg.Table))
	}
	return opts
}
