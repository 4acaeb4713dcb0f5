package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type watchHandle struct {
	watcher *Watcher
	id      uint64
	once    sync.Once
	err     error
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	handle.once.Do(func() {
		handle.err = handle.watcher.unregister(handle.id)
	})
	return handle.err
}

// Watch registers callback for files created in the directory at path.
func (watcher *Watcher) Watch(path string, options WatchOptions, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if err := validateFilters(options.Filters); err != nil {
		return nil, err
	}

	dirs := []string{root}
	if options.Recursive {
		nested, err := collectRecursiveDirs(root)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, nested...)
	}

	watcher.structMu.Lock()
	defer watcher.structMu.Unlock()

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	watcher.nextID++
	reg := &registration{
		id:        watcher.nextID,
		root:      root,
		filters:   normalizeFilters(options.Filters),
		recursive: options.Recursive,
		callback:  callback,
	}
	watcher.mutex.Unlock()

	for _, dir := range dirs {
		if err := watcher.retainDirLocked(dir); err != nil {
			watcher.releaseDirsLocked(reg.dirs)
			watcher.logWarn("watch add failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
			return nil, err
		}
		reg.dirs = append(reg.dirs, dir)
	}

	watcher.mutex.Lock()
	watcher.registrations[reg.id] = reg
	watcher.mutex.Unlock()

	return &watchHandle{watcher: watcher, id: reg.id}, nil
}

func (watcher *Watcher) unregister(id uint64) error {
	watcher.structMu.Lock()
	defer watcher.structMu.Unlock()

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	reg, ok := watcher.registrations[id]
	delete(watcher.registrations, id)
	watcher.mutex.Unlock()
	if !ok {
		return nil
	}
	return watcher.releaseDirsLocked(reg.dirs)
}

// retainDirLocked adds a reference to dir, adding the fsnotify watch on the
// first reference. Caller holds structMu.
func (watcher *Watcher) retainDirLocked(dir string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrClosed
	}
	if watcher.dirRefs[dir] > 0 {
		watcher.dirRefs[dir]++
		watcher.mutex.Unlock()
		return nil
	}
	if len(watcher.dirRefs) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	source := watcher.watcher
	watcher.mutex.Unlock()

	if err := source.Add(dir); err != nil {
		return err
	}

	watcher.mutex.Lock()
	watcher.dirRefs[dir]++
	active := len(watcher.dirRefs)
	watcher.mutex.Unlock()
	watcher.logDebug("watch added", dir, active)
	return nil
}

// releaseDirsLocked drops one reference per dir. Caller holds structMu.
func (watcher *Watcher) releaseDirsLocked(dirs []string) error {
	var errs []error
	for _, dir := range dirs {
		watcher.mutex.Lock()
		count := watcher.dirRefs[dir]
		if count > 1 {
			watcher.dirRefs[dir] = count - 1
			watcher.mutex.Unlock()
			continue
		}
		if count == 0 {
			watcher.mutex.Unlock()
			continue
		}
		delete(watcher.dirRefs, dir)
		active := len(watcher.dirRefs)
		source := watcher.watcher
		watcher.mutex.Unlock()

		if err := source.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			if _, statErr := os.Stat(dir); statErr == nil {
				watcher.logWarn("watch remove failed", map[string]string{
					"path":  dir,
					"error": err.Error(),
				})
				errs = append(errs, err)
			}
			continue
		}
		watcher.logDebug("watch removed", dir, active)
	}
	return errors.Join(errs...)
}

// matchingCallbacksLocked returns callbacks whose registration covers path
// and whose filters accept it. Caller holds mutex.
func (watcher *Watcher) matchingCallbacksLocked(path string) ([]func(Event), bool) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	var callbacks []func(Event)
	covered := false
	for _, reg := range watcher.registrations {
		if !reg.covers(dir) {
			continue
		}
		covered = true
		if !matchesFilters(reg.filters, base) {
			continue
		}
		callbacks = append(callbacks, reg.callback)
	}
	return callbacks, covered
}

func (reg *registration) covers(dir string) bool {
	if dir == reg.root {
		return true
	}
	return reg.recursive && isWithinPath(reg.root, dir)
}

func isWithinPath(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
