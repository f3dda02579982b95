package schedule

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/calcache/internal/logger"
)

// ErrNoPath is returned by Watch when the source has no backing file.
var ErrNoPath = errors.New("schedule has no file to watch")

// Watch reloads the schedule whenever its file changes and calls onChange
// after every successful reload. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so that editors
// and config management tools that replace the file by rename are seen.
// Bursts of events are debounced into one reload. A file that fails to
// parse is logged and the previous schedule stays active.
func (s *Source) Watch(ctx context.Context, onChange func()) error {
	if s.cfg.Path == "" {
		return ErrNoPath
	}

	target, err := filepath.Abs(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve schedule path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch schedule directory: %w", err)
	}

	logger.Info("Watching schedule file", logger.KeyPath, target)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

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
			debounce.Reset(s.cfg.Debounce)

		case <-debounce.C:
			if err := s.Reload(); err != nil {
				logger.Warn("Schedule reload failed, keeping previous schedule",
					logger.KeyPath, target, logger.KeyError, err)
				continue
			}
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("schedule watcher error: %w", err)
		}
	}
}
