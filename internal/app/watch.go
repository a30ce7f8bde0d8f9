package app

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"perfagent/internal/config"
)

const configWatchDebounce = 250 * time.Millisecond

// watchConfigFiles signals after the config file, or any *.toml under a config directory tree, changes.
// Params: ctx stops the watcher; path config file or directory; logger reports watcher errors.
// Returns: channel with at most one pending signal, closed on ctx cancellation; or watcher setup error.
func watchConfigFiles(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}
	// A directory without *.toml yet is still watched so the first file triggers a load.
	files, err := config.Files(path)
	if err != nil && !info.IsDir() {
		return nil, err
	}

	root := filepath.Clean(path)
	recursive := info.IsDir()
	relevant := func(name string) bool {
		return strings.EqualFold(filepath.Ext(name), ".toml")
	}
	if !recursive {
		root = filepath.Dir(root)
		target := filepath.Clean(path)
		relevant = func(name string) bool {
			return filepath.Clean(name) == target
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	// Editors replace files by rename, so directories are watched instead of files.
	dirs := map[string]struct{}{root: {}}
	for _, file := range files {
		dirs[filepath.Dir(filepath.Clean(file))] = struct{}{}
	}
	if recursive {
		if _, err := addConfigDirs(watcher, root); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch config dir %q: %w", dir, err)
		}
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		debounce := time.NewTimer(configWatchDebounce)
		debounce.Stop()
		defer debounce.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if recursive && event.Has(fsnotify.Create) {
					if stat, err := os.Stat(event.Name); err == nil && stat.IsDir() {
						found, err := addConfigDirs(watcher, event.Name)
						if err != nil {
							logger.Warn("config watcher error", slog.String("error", err.Error()))
						}
						if found {
							debounce.Reset(configWatchDebounce)
						}
						continue
					}
				}
				if !relevant(event.Name) || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
					continue
				}
				debounce.Reset(configWatchDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", slog.String("error", err.Error()))
			case <-debounce.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	logger.Info("config watch started", slog.String("dir", root), slog.Int("files", len(files)))
	return out, nil
}

// addConfigDirs watches dir and every directory below it.
// Params: watcher target watcher; dir tree root.
// Returns: true when the tree already holds *.toml files, or the first add error.
func addConfigDirs(watcher *fsnotify.Watcher, dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			if strings.EqualFold(filepath.Ext(path), ".toml") {
				found = true
			}
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch config dir %q: %w", path, err)
		}
		return nil
	})
	return found, err
}
