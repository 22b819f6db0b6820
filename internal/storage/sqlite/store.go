// Package sqlite implements crawler.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
	"github.com/JakeFAU/pitchfork-crawler/internal/storage/schema"
)

const (
	memoryPath  = ":memory:"
	maxAttempts = 5
	retryDelay  = 200 * time.Millisecond
)

// Config controls how the database file is opened.
type Config struct {
	Path         string
	Reset        bool
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Store is a crawler.Store backed by SQLite. Every call borrows its own
// connection from the database/sql pool and returns it when done.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ crawler.Store = (*Store)(nil)

type dialect struct{}

func (dialect) Type(k schema.Kind) string {
	switch k {
	case schema.Integer:
		return "INTEGER"
	case schema.Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (dialect) Placeholder(int) string { return "?" }

// DSN builds a modernc connection string applying the durability pragmas to
// every pooled connection.
func DSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 10 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	q.Add("_pragma", "temp_store(MEMORY)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	if path == memoryPath {
		return memoryPath + "?" + q.Encode()
	}
	return "file:" + path + "?" + q.Encode()
}

// Open connects to the database at cfg.Path. A reset, or a database that does
// not exist yet, is rebuilt from scratch with sentinel and metadata rows.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fresh := cfg.Reset || cfg.Path == memoryPath || isMissing(cfg.Path)
	if cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(cfg.Path, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	switch {
	case cfg.Path == memoryPath:
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger.Named("sqlite")}
	if fresh {
		err = s.Reset(ctx)
	} else {
		err = s.ensureSchema(ctx)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("Store opened", zap.String("path", cfg.Path), zap.Bool("fresh", fresh))
	return s, nil
}

func isMissing(path string) bool {
	info, err := os.Stat(path)
	return err != nil || info.Size() == 0
}

// Reset drops and recreates every table, then seeds sentinels and metadata.
func (s *Store) Reset(ctx context.Context) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema.DropStatements() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("drop table: %w", err)
			}
		}
		for _, stmt := range schema.CreateStatements(dialect{}) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		for _, sentinel := range schema.Sentinels {
			table, _ := schema.Lookup(sentinel.Table)
			stmt := schema.Insert(dialect{}, table.Name, table.ColumnNames(), nil)
			if _, err := tx.ExecContext(ctx, stmt, sentinel.Values...); err != nil {
				return fmt.Errorf("seed %s: %w", sentinel.Table, err)
			}
		}
		meta, _ := schema.Lookup(schema.MetadataTable)
		stmt := schema.Insert(dialect{}, meta.Name, meta.ColumnNames(), nil)
		for _, row := range schema.MetadataRows() {
			if _, err := tx.ExecContext(ctx, stmt, row...); err != nil {
				return fmt.Errorf("seed metadata: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ensureSchema(ctx context.Context) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema.CreateStatements(dialect{}) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
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
	if err := s.exec(ctx, stmt, rec.Values()...); err != nil {
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
	for ns, src := range schema.NamespaceSources {
		ids := make(map[string]int64)
		err := s.query(ctx, schema.NamespaceQuery(src), func(rows *sql.Rows) error {
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
	for set, src := range schema.SetSources {
		var keys []string
		err := s.query(ctx, schema.SetQuery(src), func(rows *sql.Rows) error {
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
	err := s.query(ctx, schema.AuthorTargetsQuery, func(rows *sql.Rows) error {
		var t crawler.AuthorTarget
		if err := rows.Scan(&t.AuthorID, &t.URLID, &t.URL); err != nil {
			return fmt.Errorf("scan author target: %w", err)
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

const unresolvedFailuresQuery = `WITH latest AS (
	SELECT url_id, MAX(rowid) AS last_event
	FROM scraping_events
	WHERE url_id > 0
	GROUP BY url_id
)
SELECT DISTINCT u.url_id, u.url
FROM latest l
JOIN scraping_events e ON e.rowid = l.last_event
JOIN urls u ON u.url_id = l.url_id
WHERE e.process = ? AND u.is_review = 1 AND u.is_album = 1 AND u.url IS NOT NULL
ORDER BY u.url_id`

// UnresolvedFailures lists album review pages whose most recent event, by
// insertion order, was written by process.
func (s *Store) UnresolvedFailures(ctx context.Context, process string) ([]crawler.Target, error) {
	return s.targets(ctx, unresolvedFailuresQuery, process)
}

// ExecScript runs every statement in script.
func (s *Store) ExecScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if err := s.exec(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *Store) targets(ctx context.Context, query string, args ...any) ([]crawler.Target, error) {
	var out []crawler.Target
	err := s.query(ctx, query, func(rows *sql.Rows) error {
		var t crawler.Target
		if err := rows.Scan(&t.URLID, &t.URL); err != nil {
			return fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
		return nil
	}, args...)
	return out, err
}

func (s *Store) query(ctx context.Context, query string, scan func(*sql.Rows) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()
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

func (s *Store) exec(ctx context.Context, stmt string, args ...any) error {
	return retryBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, stmt, args...)
		return err
	})
}

func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// isBusy reports whether err is a lock conflict worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func retryBusy(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
