package planner

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce absorbs the editor write/rename bursts a single save produces.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the catalog whenever the file at path changes. It blocks
// until ctx is cancelled and is intended to run in its own goroutine. A
// reload that fails to parse keeps the previous catalog in place.
func (p *Planner) Watch(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files via rename,
	// which drops a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("catalog watcher error", slog.Any("error", err))

		case <-pending:
			pending = nil
			catalog, err := LoadCatalog(path)
			if err != nil {
				p.logger.Error("catalog reload failed, keeping previous catalog",
					slog.String("path", path),
					slog.Any("error", err),
				)
				continue
			}
			p.swapCatalog(catalog)
			p.logger.Info("catalog reloaded",
				slog.String("path", path),
				slog.Int("types", len(catalog.entries)),
			)
		}
	}
}
