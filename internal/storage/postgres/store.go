// Package postgres implements crawler.Store on a PostgreSQL server.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
	"github.com/JakeFAU/pitchfork-crawler/internal/storage/schema"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Reset           bool
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store is a crawler.Store backed by a pgx connection pool.
type Store struct {
	pool   Pool
	logger *zap.Logger
}

var _ crawler.Store = (*Store)(nil)

type dialect struct{}

func (dialect) Type(k schema.Kind) string {
	switch k {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func (dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// New connects to Postgres and prepares the schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.Reset {
		err = s.Reset(ctx)
	} else {
		err = s.EnsureSchema(ctx)
	}
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger.Named("postgres")}, nil
}

// eventSequenceDDL gives scraping_events an insertion-order column, the
// Postgres counterpart of the SQLite rowid used to pick a URL's latest event.
const eventSequenceDDL = "ALTER TABLE scraping_events ADD COLUMN IF NOT EXISTS event_seq BIGSERIAL"

func createStatements() []string {
	return append(schema.CreateStatements(dialect{}), eventSequenceDDL)
}

// Reset drops and recreates every table, then seeds sentinels and metadata.
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range schema.DropStatements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("drop table: %w", err)
			}
		}
		for _, stmt := range createStatements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		for _, sentinel := range schema.Sentinels {
			table, _ := schema.Lookup(sentinel.Table)
			stmt := schema.Insert(dialect{}, table.Name, table.ColumnNames(), nil)
			if _, err := tx.Exec(ctx, stmt, sentinel.Values...); err != nil {
				return fmt.Errorf("seed %s: %w", sentinel.Table, err)
			}
		}
		meta, _ := schema.Lookup(schema.MetadataTable)
		stmt := schema.Insert(dialect{}, meta.Name, meta.ColumnNames(), nil)
		for _, row := range schema.MetadataRows() {
			if _, err := tx.Exec(ctx, stmt, row...); err != nil {
				return fmt.Errorf("seed metadata: %w", err)
			}
		}
		return nil
	})
}

// EnsureSchema creates any missing table or index without touching data.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range createStatements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		return nil
	})
}

// Insert writes rec, replacing the existing row when rec is a crawler.Upserter.
// A nil record is ignored.
func (s *Store) Insert(ctx context.Context, rec crawler.Record) error {
	if rec == nil {
		return nil
	}
	if !schema.Known(rec.Table()) {
		return fmt.Errorf("insert: unknown table %q", rec.Table())
	}
	var conflict []string
	if up, ok := rec.(crawler.Upserter); ok {
		conflict = up.ConflictColumns()
	}
	stmt := schema.Insert(dialect{}, rec.Table(), rec.Columns(), conflict)
	if _, err := s.pool.Exec(ctx, stmt, rec.Values()...); err != nil {
		return fmt.Errorf("insert into %s: %w", rec.Table(), err)
	}
	return nil
}

// LogEvent appends ev to the scraping-event log.
func (s *Store) LogEvent(ctx context.Context, ev crawler.ScrapingEvent) error {
	if err := s.Insert(ctx, ev); err != nil {
		return err
	}
	metrics.ObserveEvent(ev.Success)
	return nil
}

// Snapshot reads every persisted natural key with its surrogate id.
func (s *Store) Snapshot(ctx context.Context) (registry.Snapshot, error) {
	snap := registry.Snapshot{
		IDs:  make(map[registry.Namespace]map[string]int64, len(schema.NamespaceSources)),
		Keys: make(map[registry.SetName][]string, len(schema.SetSources)),
	}
	for _, ns := range registry.Namespaces {
		src := schema.NamespaceSources[ns]
		ids := make(map[string]int64)
		err := s.query(ctx, schema.NamespaceQuery(src), func(rows pgx.Rows) error {
			var (
				key string
				id  int64
			)
			if err := rows.Scan(&key, &id); err != nil {
				return fmt.Errorf("scan %s: %w", src.Table, err)
			}
			ids[key] = id
			return nil
		})
		if err != nil {
			return registry.Snapshot{}, err
		}
		snap.IDs[ns] = ids
	}
	for _, set := range registry.Sets {
		src := schema.SetSources[set]
		var keys []string
		err := s.query(ctx, schema.SetQuery(src), func(rows pgx.Rows) error {
			var key string
			if err := rows.Scan(&key); err != nil {
				return fmt.Errorf("scan %s: %w", src.Table, err)
			}
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return registry.Snapshot{}, err
		}
		snap.Keys[set] = keys
	}
	return snap, nil
}

// ReviewTargets lists every album review page.
func (s *Store) ReviewTargets(ctx context.Context) ([]crawler.Target, error) {
	return s.targets(ctx, schema.ReviewTargetsQuery)
}

// AuthorTargets lists every author with a known profile page.
func (s *Store) AuthorTargets(ctx context.Context) ([]crawler.AuthorTarget, error) {
	var out []crawler.AuthorTarget
	err := s.query(ctx, schema.AuthorTargetsQuery, func(rows pgx.Rows) error {
		var t crawler.AuthorTarget
		if err := rows.Scan(&t.AuthorID, &t.URLID, &t.URL); err != nil {
			return fmt.Errorf("scan author target: %w", err)
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

const unresolvedFailuresQuery = `SELECT DISTINCT u.url_id, u.url
FROM (
	SELECT DISTINCT ON (url_id) url_id, process
	FROM scraping_events
	WHERE url_id > 0
	ORDER BY url_id, event_seq DESC
) latest
JOIN urls u ON u.url_id = latest.url_id
WHERE latest.process = $1 AND u.is_review = 1 AND u.is_album = 1 AND u.url IS NOT NULL
ORDER BY u.url_id`

// UnresolvedFailures lists album review pages whose most recent event, by
// insertion order, was written by process.
func (s *Store) UnresolvedFailures(ctx context.Context, process string) ([]crawler.Target, error) {
	return s.targets(ctx, unresolvedFailuresQuery, process)
}

// ExecScript runs every statement in script using the simple protocol.
func (s *Store) ExecScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := s.pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) targets(ctx context.Context, query string, args ...any) ([]crawler.Target, error) {
	var out []crawler.Target
	err := s.query(ctx, query, func(rows pgx.Rows) error {
		var t crawler.Target
		if err := rows.Scan(&t.URLID, &t.URL); err != nil {
			return fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
		return nil
	}, args...)
	return out, err
}

func (s *Store) query(ctx context.Context, query string, scan func(pgx.Rows) error, args ...any) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
