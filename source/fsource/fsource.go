// Package fsource lists and fetches resources from a directory tree. Each
// tenant is a subdirectory of the root; every regular, non hidden file below
// it is a resource identified by its slash separated relative path.
package fsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/watch"
)

// Metadata keys set on listed descriptors.
const (
	MetaSize = "size"
	MetaPath = "path"
)

// Source reads resources from Root/<tenant>/.
type Source struct {
	root string
	log  *zap.SugaredLogger
}

// New creates a Source rooted at root.
func New(root string, log *zap.SugaredLogger) (*Source, error) {
	if root == "" {
		return nil, errors.NewInvalidRequestError("filesystem source root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve root %s", root)
	}
	if log == nil {
		log = logger.Logger
	}
	return &Source{root: abs, log: log.With(logger.FieldComponent, "fsource")}, nil
}

// TenantDir returns the directory holding tenant's resources.
func (s *Source) TenantDir(tenant string) (string, error) {
	if tenant == "" || tenant == "." || tenant == ".." || strings.ContainsAny(tenant, `/\`) {
		return "", errors.NewInvalidRequestError("invalid tenant name %q", tenant)
	}
	return filepath.Join(s.root, tenant), nil
}

// List walks the tenant directory. Hidden files and directories are skipped.
func (s *Source) List(ctx context.Context, tenant string) ([]watch.ResourceDescriptor, error) {
	dir, err := s.TenantDir(tenant)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "tenant directory %s", dir), errors.ErrSourceUnavailable)
	}

	var out []watch.ResourceDescriptor
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, watch.ResourceDescriptor{
			ResourceID: filepath.ToSlash(rel),
			Modified:   info.ModTime().UTC(),
			Metadata: map[string]any{
				MetaSize: info.Size(),
				MetaPath: p,
			},
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to walk %s", dir), errors.ErrSourceUnavailable)
	}

	s.log.Debugw("Listed directory",
		logger.FieldTenant, tenant,
		logger.FieldPath, dir,
		logger.FieldCount, len(out))
	return out, nil
}

// Fetch reads one file and checksums it with SHA-256.
func (s *Source) Fetch(ctx context.Context, tenant, resourceID string) (*watch.Payload, error) {
	p, err := s.resolve(tenant, resourceID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read %s", resourceID), errors.ErrFetchFailed)
	}
	sum := sha256.Sum256(data)
	return &watch.Payload{Data: data, Checksum: hex.EncodeToString(sum[:])}, nil
}

// resolve maps a resource id to a file inside the tenant directory.
func (s *Source) resolve(tenant, resourceID string) (string, error) {
	dir, err := s.TenantDir(tenant)
	if err != nil {
		return "", err
	}
	clean := path.Clean("/" + resourceID)[1:]
	if clean == "" || clean != resourceID {
		return "", errors.NewInvalidRequestError("invalid resource id %q", resourceID)
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}

var _ watch.Source = (*Source)(nil)
