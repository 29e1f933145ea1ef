package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/operations/internal/config"
)

// Schema creates the operation_runs table.
const Schema = `
CREATE TABLE IF NOT EXISTS operation_runs (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	operation_key TEXT NOT NULL,
	scope         TEXT NOT NULL,
	scope_id      TEXT NOT NULL DEFAULT '',
	subject_id    TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT '',
	depth         INTEGER NOT NULL DEFAULT 0,
	outcome       TEXT NOT NULL,
	result_type   TEXT NOT NULL DEFAULT '',
	navigation    TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS operation_runs_subject_started
	ON operation_runs (subject_id, started_at DESC);
`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL audit store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// OpenPgStore connects using the DSN found in the environment variable named
// by cfg.DSNEnv.
func OpenPgStore(ctx context.Context, cfg config.AuditStoreConfig) (*PgStore, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("audit: environment variable %s is empty", cfg.DSNEnv)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	return NewPgStore(pool), nil
}

// EnsureSchema creates the table when it does not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create operation_runs: %w", err)
	}
	return nil
}

// Append inserts an entry.
func (s *PgStore) Append(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operation_runs (
			id, run_id, operation_key, scope, scope_id,
			subject_id, session_id, depth, outcome, result_type,
			navigation, error, started_at, duration_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`,
		e.ID, e.RunID, e.OperationKey, e.Scope, e.ScopeID,
		e.SubjectID, e.SessionID, e.Depth, e.Outcome, e.ResultType,
		e.Navigation, e.Error, e.StartedAt, e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert operation run: %w", err)
	}
	return nil
}

// List returns matching entries, most recent first.
func (s *PgStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query, args := listQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operation runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS int64
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.OperationKey, &e.Scope, &e.ScopeID,
			&e.SubjectID, &e.SessionID, &e.Depth, &e.Outcome, &e.ResultType,
			&e.Navigation, &e.Error, &e.StartedAt, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan operation run: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PgStore) Close() {
	s.pool.Close()
}

// listQuery builds the SELECT for filter.
func listQuery(filter Filter) (string, []any) {
	query := `SELECT id, run_id, operation_key, scope, scope_id,
	                 subject_id, session_id, depth, outcome, result_type,
	                 navigation, error, started_at, duration_ms
	          FROM operation_runs
	          WHERE TRUE`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.SubjectID != "" {
		add(" AND subject_id = $%d", filter.SubjectID)
	}
	if filter.SessionID != "" {
		add(" AND session_id = $%d", filter.SessionID)
	}
	if filter.OperationKey != "" {
		add(" AND operation_key = $%d", filter.OperationKey)
	}
	if filter.RunID != "" {
		add(" AND run_id = $%d", filter.RunID)
	}
	if !filter.Since.IsZero() {
		add(" AND started_at >= $%d", filter.Since)
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		add(" LIMIT $%d", filter.Limit)
	}
	return query, args
}
