package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of file events into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watch reloads the registry whenever a skill directory changes. It blocks
// until ctx is done. onReload, when non-nil, runs after every reload.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration, onReload func()) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range r.source.Dirs() {
		addSkillDir(watcher, dir)
	}

	r.logger.Info().Strs("dirs", r.source.Dirs()).Msg("Watching skill directories")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn().Err(err).Msg("Skill watcher error")

		case <-timer.C:
			if err := r.Reload(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Skill reload failed")
				continue
			}
			if onReload != nil {
				onReload()
			}
		}
	}
}

// addSkillDir watches dir and each skill subdirectory inside it.
func addSkillDir(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = watcher.Add(filepath.Join(dir, entry.Name()))
		}
	}
}
