// Package postgres upserts result documents into a Postgres JSONB table.
//
// Expected schema:
//
//	CREATE TABLE showtimes_documents (
//		crawler_id  text        NOT NULL,
//		cinema_key  text        NOT NULL,
//		document    jsonb       NOT NULL,
//		showtimes   integer     NOT NULL,
//		crawled_at  timestamptz NOT NULL,
//		PRIMARY KEY (crawler_id, cinema_key)
//	);
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
)

// DefaultTable receives documents when no table is configured.
const DefaultTable = "showtimes_documents"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Writer stores one row per crawler and cinema; later crawls replace it.
type Writer struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Writer, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("output.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	w, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

// NewWithPool constructs a writer from an existing pool.
func NewWithPool(pool execCloser, table string) (*Writer, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Writer{pool: pool, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the pool.
func (w *Writer) Close() {
	if w == nil || w.pool == nil {
		return
	}
	w.pool.Close()
}

// Save implements output.Writer and returns "<table>/<crawler>/<cinema>".
func (w *Writer) Save(ctx context.Context, result *model.Result, _ *crawlctx.Context) (string, error) {
	doc, err := output.Encode(result, nil)
	if err != nil {
		metrics.ObserveDocument("postgres", "error")
		return "", err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (crawler_id, cinema_key, document, showtimes, crawled_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (crawler_id, cinema_key) DO UPDATE SET
	document = EXCLUDED.document,
	showtimes = EXCLUDED.showtimes,
	crawled_at = EXCLUDED.crawled_at`, w.table)

	crawlerID, key := doc.Result.CrawlerID(), doc.Result.Cinema.Key()
	args := []any{crawlerID, key, doc.Body, len(doc.Result.Showtimes), w.now()}
	if _, err := w.pool.Exec(ctx, query, args...); err != nil {
		metrics.ObserveDocument("postgres", "error")
		return "", fmt.Errorf("upsert document: %w", err)
	}
	metrics.ObserveDocument("postgres", "ok")
	return fmt.Sprintf("%s/%s/%s", w.table, crawlerID, key), nil
}
