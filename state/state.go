// Package state persists watch.ResourceState.
//
// Store keeps state in the local SQLite database, MemStore keeps it in
// memory, and package pgstate keeps it in PostgreSQL. All of them upsert one
// row per (tenant, resource id) and never delete state on their own.
package state

import (
	"context"
	"encoding/json"

	"github.com/teranos/resourcewatch/db"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

// Admin is the operator facing side of a state store.
type Admin interface {
	watch.StateStore

	// List returns every state stored for tenant ordered by resource id.
	List(ctx context.Context, tenant string) ([]*watch.ResourceState, error)

	// Delete removes one state. Returns a not-found error when absent.
	Delete(ctx context.Context, tenant, resourceID string) error
}

// EncodeExtensions serializes action extensions for storage. Nil and empty
// maps are stored as NULL.
func EncodeExtensions(ext map[string]any) (*string, error) {
	if len(ext) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode extensions")
	}
	s := string(b)
	return &s, nil
}

// DecodeExtensions is the inverse of EncodeExtensions.
func DecodeExtensions(raw *string) (map[string]any, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var ext map[string]any
	if err := json.Unmarshal([]byte(*raw), &ext); err != nil {
		return nil, errors.Wrap(err, "failed to decode extensions")
	}
	return ext, nil
}

// storeFailed marks err as a store failure. A closed database is also marked
// ErrDatabaseClosed so callers can tell shutdown from breakage.
func storeFailed(err error, format string, args ...any) error {
	wrapped := errors.Mark(errors.Wrapf(err, format, args...), errors.ErrStoreFailed)
	if db.IsDatabaseClosed(err) {
		wrapped = errors.Mark(wrapped, db.ErrDatabaseClosed)
	}
	return wrapped
}
