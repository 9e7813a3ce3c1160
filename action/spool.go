package action

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

// Built-in action kinds.
const (
	KindSpool   = "spool"
	KindDiscard = "discard"
)

// Extension keys returned by the built-in actions.
const (
	ExtSpoolPath = "spool_path"
	ExtBytes     = "bytes"
)

// Spool copies every changed payload to Dir/<tenant>/<resource id>. A payload
// identical to what is already spooled is declined with errors.ErrNoAction.
type Spool struct {
	Dir string
}

// NewSpoolFromSettings builds a Spool from the "dir" setting.
func NewSpoolFromSettings(s Settings) (watch.Action, error) {
	dir := s.String("dir", "")
	if dir == "" {
		return nil, errors.NewInvalidRequestError("spool action requires a dir setting")
	}
	return &Spool{Dir: dir}, nil
}

func (s *Spool) Execute(ctx context.Context, tenant string, pc *watch.ProcessContext, payload *watch.Payload) (map[string]any, error) {
	dest, err := s.destination(tenant, pc.Current.ResourceID)
	if err != nil {
		return nil, err
	}

	if existing, err := os.ReadFile(dest); err == nil && bytes.Equal(existing, payload.Data) {
		return nil, errors.Wrapf(errors.ErrNoAction, "%s already spooled", pc.Current.ResourceID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create spool directory for %s", dest)
	}
	// Write through a temp file so readers never see a partial payload.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".spool-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload.Data); err != nil {
		tmp.Close()
		return nil, errors.Wrapf(err, "failed to write %s", dest)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", dest)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, errors.Wrapf(err, "failed to move payload to %s", dest)
	}

	return map[string]any{
		ExtSpoolPath: dest,
		ExtBytes:     len(payload.Data),
	}, nil
}

func (s *Spool) destination(tenant, resourceID string) (string, error) {
	clean := path.Clean("/" + resourceID)[1:]
	if clean == "" || clean != resourceID || tenant == "" || filepath.Base(tenant) != tenant {
		return "", errors.NewInvalidRequestError("cannot spool %s/%s", tenant, resourceID)
	}
	return filepath.Join(s.Dir, tenant, filepath.FromSlash(clean)), nil
}

// Discard accepts every payload without doing anything with it.
type Discard struct{}

func (Discard) Execute(ctx context.Context, tenant string, pc *watch.ProcessContext, payload *watch.Payload) (map[string]any, error) {
	return map[string]any{ExtBytes: len(payload.Data)}, nil
}
