package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

// Store keeps resource states in the resource_states table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store on an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get returns the state of one resource, or nil when none is stored.
func (s *Store) Get(ctx context.Context, tenant, resourceID string) (*watch.ResourceState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resource_id, checksum, modified, retry_count, banned_until, extensions
		FROM resource_states
		WHERE tenant = ? AND resource_id = ?
	`, tenant, resourceID)

	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeFailed(err, "failed to get state %s/%s", tenant, resourceID)
	}
	return st, nil
}

// Put upserts the state of one resource.
func (s *Store) Put(ctx context.Context, tenant string, st *watch.ResourceState) error {
	if st == nil || st.ResourceID == "" {
		return errors.NewInvalidRequestError("state with a resource id is required")
	}
	ext, err := EncodeExtensions(st.Extensions)
	if err != nil {
		return storeFailed(err, "failed to put state %s/%s", tenant, st.ResourceID)
	}

	var bannedUntil interface{}
	if st.BannedUntil != nil {
		bannedUntil = st.BannedUntil.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resource_states (
			tenant, resource_id, checksum, modified,
			retry_count, banned_until, extensions, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, resource_id) DO UPDATE SET
			checksum = excluded.checksum,
			modified = excluded.modified,
			retry_count = excluded.retry_count,
			banned_until = excluded.banned_until,
			extensions = excluded.extensions,
			updated_at = excluded.updated_at
	`,
		tenant,
		st.ResourceID,
		st.Checksum,
		st.Modified.UTC(),
		st.RetryCount,
		bannedUntil,
		ext,
		s.now().UTC(),
	)
	if err != nil {
		return storeFailed(err, "failed to put state %s/%s", tenant, st.ResourceID)
	}
	return nil
}

// List returns every state of tenant ordered by resource id.
func (s *Store) List(ctx context.Context, tenant string) ([]*watch.ResourceState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, checksum, modified, retry_count, banned_until, extensions
		FROM resource_states
		WHERE tenant = ?
		ORDER BY resource_id
	`, tenant)
	if err != nil {
		return nil, storeFailed(err, "failed to list states of %s", tenant)
	}
	defer rows.Close()

	var states []*watch.ResourceState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, storeFailed(err, "failed to scan state of %s", tenant)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailed(err, "failed to iterate states of %s", tenant)
	}
	return states, nil
}

// Delete removes the state of one resource so the next run treats it as New.
func (s *Store) Delete(ctx context.Context, tenant, resourceID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM resource_states WHERE tenant = ? AND resource_id = ?`,
		tenant, resourceID)
	if err != nil {
		return storeFailed(err, "failed to delete state %s/%s", tenant, resourceID)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeFailed(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("no state for %s/%s", tenant, resourceID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row scanner) (*watch.ResourceState, error) {
	var st watch.ResourceState
	var bannedUntil sql.NullTime
	var ext sql.NullString

	if err := row.Scan(
		&st.ResourceID,
		&st.Checksum,
		&st.Modified,
		&st.RetryCount,
		&bannedUntil,
		&ext,
	); err != nil {
		return nil, err
	}

	st.Modified = st.Modified.UTC()
	if bannedUntil.Valid {
		until := bannedUntil.Time.UTC()
		st.BannedUntil = &until
	}
	if ext.Valid {
		decoded, err := DecodeExtensions(&ext.String)
		if err != nil {
			return nil, err
		}
		st.Extensions = decoded
	}
	return &st, nil
}
