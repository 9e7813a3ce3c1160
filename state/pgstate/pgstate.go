// Package pgstate stores resource states in PostgreSQL for deployments that
// share state between hosts.
package pgstate

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/state"
	"github.com/teranos/resourcewatch/watch"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	URI             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns pool defaults suitable for a single watch host.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS resource_states (
	tenant       TEXT        NOT NULL,
	resource_id  TEXT        NOT NULL,
	checksum     TEXT        NOT NULL DEFAULT '',
	modified     TIMESTAMPTZ NOT NULL,
	retry_count  INTEGER     NOT NULL DEFAULT 0,
	banned_until TIMESTAMPTZ,
	extensions   JSONB,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant, resource_id)
)`

// Store implements state.Admin on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and creates the schema when missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.NewInvalidRequestError("postgres uri is required")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse connection URI")
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Mark(errors.Wrap(err, "failed to ping database"), errors.ErrStoreFailed)
	}

	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the resource_states table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to create schema"), errors.ErrStoreFailed)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenant, resourceID string) (*watch.ResourceState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT resource_id, checksum, modified, retry_count, banned_until, extensions::text
		FROM resource_states
		WHERE tenant = $1 AND resource_id = $2`,
		tenant, resourceID)

	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, failed(err, "failed to get state %s/%s", tenant, resourceID)
	}
	return st, nil
}

func (s *Store) Put(ctx context.Context, tenant string, st *watch.ResourceState) error {
	if st == nil || st.ResourceID == "" {
		return errors.NewInvalidRequestError("state with a resource id is required")
	}
	ext, err := state.EncodeExtensions(st.Extensions)
	if err != nil {
		return failed(err, "failed to put state %s/%s", tenant, st.ResourceID)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO resource_states (
			tenant, resource_id, checksum, modified, retry_count, banned_until, extensions, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, now())
		ON CONFLICT (tenant, resource_id) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			modified = EXCLUDED.modified,
			retry_count = EXCLUDED.retry_count,
			banned_until = EXCLUDED.banned_until,
			extensions = EXCLUDED.extensions,
			updated_at = EXCLUDED.updated_at`,
		tenant, st.ResourceID, st.Checksum, st.Modified, st.RetryCount, st.BannedUntil, ext)
	if err != nil {
		return failed(err, "failed to put state %s/%s", tenant, st.ResourceID)
	}
	return nil
}

func (s *Store) List(ctx context.Context, tenant string) ([]*watch.ResourceState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT resource_id, checksum, modified, retry_count, banned_until, extensions::text
		FROM resource_states
		WHERE tenant = $1
		ORDER BY resource_id`,
		tenant)
	if err != nil {
		return nil, failed(err, "failed to list states of %s", tenant)
	}
	defer rows.Close()

	var states []*watch.ResourceState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, failed(err, "failed to scan state of %s", tenant)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, failed(err, "failed to iterate states of %s", tenant)
	}
	return states, nil
}

func (s *Store) Delete(ctx context.Context, tenant, resourceID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM resource_states WHERE tenant = $1 AND resource_id = $2`,
		tenant, resourceID)
	if err != nil {
		return failed(err, "failed to delete state %s/%s", tenant, resourceID)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("no state for %s/%s", tenant, resourceID)
	}
	return nil
}

func scanState(row pgx.Row) (*watch.ResourceState, error) {
	var st watch.ResourceState
	var ext *string
	if err := row.Scan(&st.ResourceID, &st.Checksum, &st.Modified, &st.RetryCount, &st.BannedUntil, &ext); err != nil {
		return nil, err
	}
	st.Modified = st.Modified.UTC()
	if st.BannedUntil != nil {
		until := st.BannedUntil.UTC()
		st.BannedUntil = &until
	}
	decoded, err := state.DecodeExtensions(ext)
	if err != nil {
		return nil, err
	}
	st.Extensions = decoded
	return &st, nil
}

func failed(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errors.ErrStoreFailed)
}

var _ state.Admin = (*Store)(nil)
