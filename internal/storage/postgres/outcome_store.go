// Package postgres records fetch outcomes in a Postgres ledger table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "fetch_outcomes"

// Config controls the Postgres connection pool used for outcome rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// OutcomeStore implements archive.OutcomeSink by inserting one row per run.
//
// Expected schema:
//
//	CREATE TABLE fetch_outcomes (
//		id            UUID PRIMARY KEY,
//		recorded_at   TIMESTAMPTZ NOT NULL,
//		requested_url TEXT NOT NULL,
//		resolved_url  TEXT NOT NULL,
//		storage_key   TEXT,
//		success       BOOLEAN NOT NULL,
//		status_code   INTEGER NOT NULL,
//		headers       JSONB NOT NULL
//	);
type OutcomeStore struct {
	pool  execCloser
	table string
	ids   archive.IDGenerator
	clock archive.Clock
}

// NewOutcomeStore connects to Postgres using cfg.
func NewOutcomeStore(ctx context.Context, cfg Config, ids archive.IDGenerator, clock archive.Clock) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return NewOutcomeStoreWithPool(pool, table, ids, clock)
}

// NewOutcomeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOutcomeStoreWithPool(pool execCloser, table string, ids archive.IDGenerator, clock archive.Clock) (*OutcomeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: pool, table: table, ids: ids, clock: clock}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *OutcomeStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Record inserts the outcome as a new ledger row.
func (s *OutcomeStore) Record(ctx context.Context, outcome archive.FetchOutcome) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate outcome id: %w", err)
	}
	headers := outcome.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	var storageKey *string
	if outcome.StorageKey != "" {
		storageKey = &outcome.StorageKey
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	recorded_at,
	requested_url,
	resolved_url,
	storage_key,
	success,
	status_code,
	headers
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		id,
		s.clock.Now(),
		outcome.RequestedURL,
		outcome.ResolvedURL,
		storageKey,
		outcome.Success,
		outcome.Status,
		headersJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}
