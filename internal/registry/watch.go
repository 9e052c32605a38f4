package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the registry whenever a definition file in the crews
// directory changes and reports non-empty changes to onChange. It returns
// once the watch is set up; watching stops when ctx is done.
func (r *Registry) Watch(ctx context.Context, onChange func(Changes)) error {
	if r.dir == "" {
		return errors.New("no crews directory to watch")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create crews dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	go r.watchLoop(ctx, w, onChange)
	slog.Info("watching crews directory", "dir", r.dir)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, w *fsnotify.Watcher, onChange func(Changes)) {
	defer w.Close()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case <-timer.C:
			ch, err := r.Reload()
			if err != nil {
				slog.Error("crew reload failed, keeping previous definitions", "error", err)
				continue
			}
			if ch.Empty() {
				continue
			}
			slog.Info("crews reloaded", "added", ch.Added, "removed", ch.Removed, "changed", ch.Changed)
			if onChange != nil {
				onChange(ch)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Error("crews watcher error", "error", err)
		}
	}
}
