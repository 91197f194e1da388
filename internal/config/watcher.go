package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce interval for editors that fire multiple write events per save.
const reloadDebounce = 500 * time.Millisecond

// Watcher re-reads the config file when it changes and swaps the result
// into the Store. This lets operators flip the maintenance flag or the
// stale-message policy on a running gateway.
type Watcher struct {
	path  string
	store *Store
	fw    *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files on save,
	// which would otherwise drop the watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, store: store, fw: fw}, nil
}

// Run blocks until ctx is cancelled, reloading the config on file changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				slog.Warn("reloaded config invalid, keeping previous config", "path", w.path, "error", err)
				continue
			}
			w.store.Replace(cfg)
			slog.Info("config reloaded",
				"maintenance", cfg.Chat.Maintenance,
				"stale_policy", cfg.Chat.StalePolicy,
			)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
