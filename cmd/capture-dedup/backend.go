package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfeidau/capture-dedup/backend"
	"github.com/wolfeidau/capture-dedup/server"
)

// BackendFlags select and configure the dedup backend.
type BackendFlags struct {
	Backend string `help:"Backend (${enum})." enum:"boltdb,postgres,redis,cdx" default:"boltdb" env:"CAPTURE_DEDUP_BACKEND"`

	BoltPath   string `help:"boltdb database file." default:"./dedup.db" type:"path" env:"CAPTURE_DEDUP_BOLT_PATH"`
	BoltNoSync bool   `help:"Skip fsync after boltdb writes." env:"CAPTURE_DEDUP_BOLT_NOSYNC"`

	PostgresURL   string   `help:"PostgreSQL or Citus connection string." env:"CAPTURE_DEDUP_POSTGRES_URL"`
	RedisAddrs    []string `help:"Redis addresses; more than one selects cluster mode." env:"CAPTURE_DEDUP_REDIS_ADDRS"`
	RedisPassword string   `help:"Redis password." env:"CAPTURE_DEDUP_REDIS_PASSWORD"`

	Table    string `help:"Table holding the index on clustered backends." default:"dedup" env:"CAPTURE_DEDUP_TABLE"`
	Shards   int    `help:"Shard count; 0 uses one per server." default:"0" env:"CAPTURE_DEDUP_SHARDS"`
	Replicas int    `help:"Replica count; 0 uses min(3, servers)." default:"0" env:"CAPTURE_DEDUP_REPLICAS"`

	CDXURL     string        `name:"cdx-url" help:"CDX query endpoint." default:"https://web.archive.org/cdx/search/cdx" env:"CAPTURE_DEDUP_CDX_URL"`
	CDXTimeout time.Duration `name:"cdx-timeout" help:"CDX query timeout." default:"30s" env:"CAPTURE_DEDUP_CDX_TIMEOUT"`

	CoalesceLookups bool `help:"Share one backend lookup between concurrent identical lookups." default:"true" negatable:"" env:"CAPTURE_DEDUP_COALESCE_LOOKUPS"`
}

func (f BackendFlags) config() server.BackendConfig {
	return server.BackendConfig{
		Kind:          f.Backend,
		BoltPath:      f.BoltPath,
		BoltNoSync:    f.BoltNoSync,
		PostgresURL:   f.PostgresURL,
		RedisAddrs:    f.RedisAddrs,
		RedisPassword: f.RedisPassword,
		Table:         f.Table,
		Shards:        f.Shards,
		Replicas:      f.Replicas,
		CDXURL:        f.CDXURL,
		CDXTimeout:    f.CDXTimeout,
		Coalesce:      f.CoalesceLookups,
	}
}

func (f BackendFlags) open(ctx context.Context, logger *slog.Logger) (*backend.InstrumentedBackend, func() error, error) {
	return server.OpenBackend(ctx, f.config(), logger)
}
