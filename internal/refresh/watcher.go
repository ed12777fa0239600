package refresh

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"ouilookup/internal/log"
	"ouilookup/internal/registry"
)

// Watcher observes the data directory and invokes a callback whenever the timestamp marker is
// written, as happens when another process persists a download.
type Watcher struct {
	dir      *registry.Directory
	onChange func()
	logger   log.Logger
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir *registry.Directory, onChange func(), logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Watcher{dir, onChange, logger}
}

// Run watches the directory until ctx is cancelled. The marker is replaced by rename, so the
// directory itself is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: error creating file watcher: err=%v", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir.Path()); err != nil {
		return fmt.Errorf("watcher: error watching data directory: path=%s err=%v", w.dir.Path(), err)
	}

	w.logger.Debug("watcher: watching data directory: path=%s", w.dir.Path())

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Base(event.Name) != registry.MarkerFileName {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.logger.Debug("watcher: timestamp marker changed: op=%s", event.Op)
				w.onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher: error watching data directory: err=%v", err)

		case <-ctx.Done():
			return nil
		}
	}
}
