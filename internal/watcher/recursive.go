package watcher

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

func collectRecursiveDirs(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// followNewDir extends recursive registrations to a directory created after
// they were established, then reports files that landed in it before the
// watch was in place.
func (watcher *Watcher) followNewDir(dir string) {
	watcher.structMu.Lock()

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		watcher.structMu.Unlock()
		return
	}
	var owners []*registration
	for _, reg := range watcher.registrations {
		if reg.recursive && isWithinPath(reg.root, dir) {
			owners = append(owners, reg)
		}
	}
	watcher.mutex.Unlock()

	if len(owners) == 0 {
		watcher.structMu.Unlock()
		return
	}

	dirs := append([]string{dir}, mustCollect(dir)...)
	for _, reg := range owners {
		for _, nested := range dirs {
			if err := watcher.retainDirLocked(nested); err != nil {
				watcher.logWarn("recursive watch add failed", map[string]string{
					"path":  nested,
					"error": err.Error(),
				})
				continue
			}
			reg.dirs = append(reg.dirs, nested)
		}
	}
	watcher.structMu.Unlock()

	for _, nested := range dirs {
		entries, err := readDirFiles(nested)
		if err != nil {
			continue
		}
		for _, path := range entries {
			watcher.schedule(path, fsnotify.Create)
		}
	}
}

func mustCollect(root string) []string {
	dirs, err := collectRecursiveDirs(root)
	if err != nil {
		return nil
	}
	return dirs
}

func readDirFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}
