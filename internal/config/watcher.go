package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads state files when they change on disk. Directories are
// watched rather than the files themselves so editor atomic renames are
// still seen. Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := map[string]func() error{
		filepath.Clean(s.cfg.SettingsPath):    s.ReloadSettings,
		filepath.Clean(s.cfg.ModelsPath):      s.ReloadModels,
		filepath.Clean(s.cfg.EndpointMapPath): s.ReloadEndpoints,
	}

	dirs := map[string]bool{}
	for path := range watched {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
		dirs[dir] = true
	}

	// Editors fire several events per save; coalesce per path.
	pending := map[string]func() error{}
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			reload, known := watched[filepath.Clean(event.Name)]
			if !known {
				continue
			}
			pending[filepath.Clean(event.Name)] = reload
			if timer == nil {
				timer = time.NewTimer(200 * time.Millisecond)
				timerC = timer.C
			} else {
				timer.Reset(200 * time.Millisecond)
			}

		case <-timerC:
			for path, reload := range pending {
				if err := reload(); err != nil {
					log.Printf("Warning: reload of %s failed: %v", path, err)
					continue
				}
				log.Printf("Reloaded %s", path)
			}
			pending = map[string]func() error{}
			timer = nil
			timerC = nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: file watcher error: %v", err)
		}
	}
}
