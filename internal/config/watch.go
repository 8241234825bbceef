package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/waggle-sh/waggle/internal/debug"
)

// Watch reloads the config file whenever it changes on disk and calls
// onChange with the new configuration. It blocks until ctx is cancelled.
// Parse failures are logged and skipped; the previous config stays in force.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadFile(path)
			if err != nil {
				debug.Logf("config: reload %s: %v", path, err)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Logf("config: watcher: %v", err)
		}
	}
}
