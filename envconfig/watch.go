package envconfig

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with a freshly loaded config every time the file at path is
// written. It blocks until ctx is done or the watcher fails.
func Watch(ctx context.Context, path string, onChange func(config *Config, err error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error starting new file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("unable to watch config file %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file watcher closed events channel")
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				onChange(Load(path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed errors channel")
			}
			return fmt.Errorf("file watcher caught error: %w", err)
		}
	}
}
