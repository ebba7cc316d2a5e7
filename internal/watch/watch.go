// Package watch re-ingests the rulebook when its files change on disk.
// Bursts of file events are coalesced into a single re-ingest.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window used to coalesce event bursts.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a rules directory and fires one trigger per burst of
// changes.
type Watcher struct {
	logger   *slog.Logger
	dir      string
	debounce time.Duration
	trigger  func(ctx context.Context) error
}

// New creates a watcher over dir. trigger is invoked after each settled
// burst of markdown changes; a non-positive debounce uses the default.
func New(logger *slog.Logger, dir string, debounce time.Duration, trigger func(ctx context.Context) error) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger,
		dir:      dir,
		debounce: debounce,
		trigger:  trigger,
	}
}

// Run watches until the context is cancelled. Trigger failures are logged
// and watching continues; the next change gets another chance.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addRecursive(fsw, w.dir); err != nil {
		return err
	}
	w.logger.Info("watching rulebook", "dir", w.dir, "debounce", w.debounce)

	// The timer stays stopped until a relevant event arrives.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				// A new subdirectory needs its own watch.
				_ = addRecursive(fsw, event.Name)
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("rulebook change", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			if err := w.trigger(ctx); err != nil {
				w.logger.Error("rulebook re-ingest failed", "error", err)
			} else {
				w.logger.Info("rulebook re-ingested")
			}
		}
	}
}

// relevant keeps only markdown file changes.
func relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".md" || ext == ".markdown"
}

// addRecursive watches dir and every subdirectory under it. Non-directory
// paths are ignored.
func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
