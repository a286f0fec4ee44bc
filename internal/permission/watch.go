package permission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the store whenever the pattern file is replaced or edited
// on disk, until ctx is done. onReload, if set, runs after each reload.
// The directory is watched rather than the file because saves rename a
// temp file over it.
func (s *Store) Watch(ctx context.Context, onReload func(PatternSet)) error {
	if s.path == "" {
		return errors.New("memory store has no file to watch")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pattern dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.log.Warn("pattern reload failed", zap.Error(err))
					continue
				}
				s.log.Debug("patterns reloaded", zap.String("path", s.path))
				if onReload != nil {
					onReload(s.Snapshot())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("pattern watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
