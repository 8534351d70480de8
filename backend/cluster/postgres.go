package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgDuplicateDatabase is the SQLSTATE for CREATE DATABASE on an existing name.
const pgDuplicateDatabase = "42P04"

// PostgresDriver stores the index in PostgreSQL. On a Citus cluster the
// table is distributed by key across the worker nodes.
type PostgresDriver struct {
	pool          *pgxpool.Pool
	maintenanceDB string
	logger        *slog.Logger
}

// PostgresOption configures a PostgresDriver.
type PostgresOption func(*PostgresDriver)

// WithMaintenanceDatabase sets the database used to create the target
// database. Default: "postgres".
func WithMaintenanceDatabase(name string) PostgresOption {
	return func(d *PostgresDriver) {
		d.maintenanceDB = name
	}
}

// WithPostgresLogger sets the logger.
func WithPostgresLogger(logger *slog.Logger) PostgresOption {
	return func(d *PostgresDriver) {
		d.logger = logger
	}
}

// NewPostgresDriver creates a driver for the database named in connString.
// Connections are established lazily, so the database may not exist yet.
func NewPostgresDriver(ctx context.Context, connString string, opts ...PostgresOption) (*PostgresDriver, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	d := &PostgresDriver{
		pool:          pool,
		maintenanceDB: "postgres",
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Close closes all pooled connections.
func (d *PostgresDriver) Close() {
	d.pool.Close()
}

// ClusterSize returns the number of active Citus workers, or 1 for a
// standalone server.
func (d *PostgresDriver) ClusterSize(ctx context.Context) (int, error) {
	citus, err := d.hasCitus(ctx)
	if err != nil {
		return 0, err
	}
	if !citus {
		return 1, nil
	}
	var workers int
	if err := d.pool.QueryRow(ctx, `SELECT count(*) FROM citus_get_active_worker_nodes()`).Scan(&workers); err != nil {
		return 0, fmt.Errorf("counting citus workers: %w", err)
	}
	return workers, nil
}

// EnsureDatabase creates the configured database from the maintenance
// database if it does not exist.
func (d *PostgresDriver) EnsureDatabase(ctx context.Context) error {
	cfg := d.pool.Config().ConnConfig.Copy()
	name := cfg.Database
	if name == "" || name == d.maintenanceDB {
		return nil
	}
	cfg.Database = d.maintenanceDB

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", d.maintenanceDB, err)
	}
	defer func() { _ = conn.Close(ctx) }()

	var exists bool
	err = conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking database %s: %w", name, err)
	}
	if exists {
		return nil
	}

	d.logger.Info("creating postgres database", "database", name)
	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateDatabase {
		// created concurrently by another process
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating database %s: %w", name, err)
	}
	return nil
}

// EnsureTable creates the table if absent and, on Citus, distributes it with
// the requested shard count and replication factor.
func (d *PostgresDriver) EnsureTable(ctx context.Context, spec TableSpec) error {
	var exists bool
	if err := d.pool.QueryRow(ctx, `SELECT to_regclass($1::text) IS NOT NULL`, spec.Name).Scan(&exists); err != nil {
		return fmt.Errorf("checking table: %w", err)
	}
	if !exists {
		d.logger.Info("creating postgres table",
			"table", spec.Name,
			"database", d.pool.Config().ConnConfig.Database,
			"shards", spec.Shards,
			"replicas", spec.Replicas,
		)
	}

	table := pgx.Identifier{spec.Name}.Sanitize()
	_, err := d.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		key  text PRIMARY KEY,
		url  text NOT NULL,
		date text NOT NULL,
		id   text NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}

	citus, err := d.hasCitus(ctx)
	if err != nil || !citus {
		return err
	}

	var distributed bool
	err = d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_dist_partition WHERE logicalrelid = to_regclass($1::text))`,
		spec.Name,
	).Scan(&distributed)
	if err != nil {
		return fmt.Errorf("checking distribution: %w", err)
	}
	if distributed {
		return nil
	}

	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		// SET does not accept bind parameters
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL citus.shard_replication_factor = %d", spec.Replicas)); err != nil {
			return fmt.Errorf("setting replication factor: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT create_distributed_table($1::text::regclass, 'key', shard_count := $2)`, spec.Name, spec.Shards); err != nil {
			return fmt.Errorf("distributing table: %w", err)
		}
		return nil
	})
}

// Upsert inserts or replaces a row. xmax is zero only for a freshly
// inserted tuple, which separates inserts from replacements.
func (d *PostgresDriver) Upsert(ctx context.Context, table string, row Row) (WriteResult, error) {
	rows, err := d.pool.Query(ctx,
		`INSERT INTO `+pgx.Identifier{table}.Sanitize()+` (key, url, date, id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		   url = EXCLUDED.url, date = EXCLUDED.date, id = EXCLUDED.id
		 RETURNING (xmax = 0) AS inserted`,
		row[ColumnKey], row[ColumnURL], row[ColumnDate], row[ColumnID],
	)
	if err != nil {
		return WriteResult{}, err
	}
	defer rows.Close()

	var result WriteResult
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			result.Errors++
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Replaced++
		}
	}
	if err := rows.Err(); err != nil {
		return WriteResult{}, err
	}
	return result, nil
}

// Get returns the row with the given key, or nil.
func (d *PostgresDriver) Get(ctx context.Context, table, key string) (Row, error) {
	var url, date, id string
	err := d.pool.QueryRow(ctx,
		`SELECT url, date, id FROM `+pgx.Identifier{table}.Sanitize()+` WHERE key = $1`,
		key,
	).Scan(&url, &date, &id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Row{ColumnKey: key, ColumnURL: url, ColumnDate: date, ColumnID: id}, nil
}

func (d *PostgresDriver) hasCitus(ctx context.Context) (bool, error) {
	var citus bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'citus')`).Scan(&citus)
	if err != nil {
		return false, fmt.Errorf("checking for citus: %w", err)
	}
	return citus, nil
}

var _ Driver = (*PostgresDriver)(nil)
