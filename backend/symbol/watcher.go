package symbol

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const staleOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// FileWatcher reports changes to the files backing an Index, after which
// the addresses it resolves may no longer match the files on disk. Parent
// directories are watched so replacements through rename are seen too.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	paths   map[string]bool
}

func NewFileWatcher(paths []string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fileWatcher := &FileWatcher{
		watcher: watcher,
		paths:   map[string]bool{},
	}

	dirs := map[string]bool{}
	for _, path := range paths {
		path = filepath.Clean(path)
		fileWatcher.paths[path] = true

		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := watcher.Add(dir); err != nil {
			logrus.Warnf("Failed to watch directory [%s], err [%s]", dir, err)
		}
	}
	return fileWatcher, nil
}

// Run calls onChange for every change to a watched file until ctx is done
// or the watcher is released.
func (fileWatcher *FileWatcher) Run(ctx context.Context, onChange func(path string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fileWatcher.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&staleOps == 0 {
				continue
			}
			if !fileWatcher.paths[filepath.Clean(event.Name)] {
				continue
			}
			onChange(event.Name)
		case err, ok := <-fileWatcher.watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Errorf("Failed to watch events, err [%s]", err)
		}
	}
}

func (fileWatcher *FileWatcher) Release() error {
	return fileWatcher.watcher.Close()
}
