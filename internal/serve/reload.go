package serve

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchBest reloads the predictor whenever the BEST file is created or
// written. The parent directory is watched because atomic writes replace
// the file by rename.
func (a *App) watchBest(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(a.watchPath)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				a.logger.Info("Best checkpoint changed, reloading", "path", event.Name, "op", event.Op.String())
				if err := a.LoadBest(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("Reload failed, keeping current model", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				a.logger.Warn("Checkpoint watcher error", "error", err)
			}
		}
	}()

	a.logger.Info("Watching best checkpoint for changes", "path", target)
	return nil
}
