package fsource

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
)

// DefaultDebounce coalesces bursts of file events into one trigger.
const DefaultDebounce = 500 * time.Millisecond

// Notify calls onChange after files below the tenant directory change. Rapid
// events are debounced. Directories created later are watched as well.
// Blocks until ctx is done.
func (s *Source) Notify(ctx context.Context, tenant string, debounce time.Duration, onChange func()) error {
	dir, err := s.TenantDir(tenant)
	if err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	defer w.Close()

	if err := addTree(w, dir); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to watch %s", dir), errors.ErrSourceUnavailable)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, onChange)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(w, event.Name); err != nil {
						s.log.Warnw("Failed to watch new directory",
							logger.FieldPath, event.Name,
							logger.FieldError, err)
					}
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.log.Debugw("Detected file change",
					logger.FieldTenant, tenant,
					logger.FieldPath, event.Name,
					"op", event.Op.String())
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warnw("File watcher error",
				logger.FieldTenant, tenant,
				logger.FieldError, err)
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
