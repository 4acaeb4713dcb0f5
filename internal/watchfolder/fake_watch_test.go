package watchfolder

import (
	"errors"
	"sync"
	"time"

	"watchfolder/internal/watcher"
)

// fakeWatch stands in for the OS watcher and counts live handles.
type fakeWatch struct {
	mu      sync.Mutex
	handles map[*fakeHandle]struct{}
	opened  int
	failFor map[string]error
}

type fakeHandle struct {
	owner    *fakeWatch
	path     string
	options  watcher.WatchOptions
	callback func(watcher.Event)
	closed   bool
}

func newFakeWatch() *fakeWatch {
	return &fakeWatch{handles: make(map[*fakeHandle]struct{}), failFor: make(map[string]error)}
}

func (f *fakeWatch) Watch(path string, options watcher.WatchOptions, callback func(watcher.Event)) (watcher.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[path]; err != nil {
		return nil, err
	}
	handle := &fakeHandle{owner: f, path: path, options: options, callback: callback}
	f.handles[handle] = struct{}{}
	f.opened++
	return handle, nil
}

func (h *fakeHandle) Close() error {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	if h.closed {
		return errors.New("handle already closed")
	}
	h.closed = true
	delete(h.owner.handles, h)
	return nil
}

func (f *fakeWatch) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeWatch) liveFor(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for handle := range f.handles {
		if handle.path == path {
			count++
		}
	}
	return count
}

func (f *fakeWatch) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// fire delivers a created file to every live handle on dir and reports how
// many received it.
func (f *fakeWatch) fire(dir, file string) int {
	f.mu.Lock()
	var callbacks []func(watcher.Event)
	for handle := range f.handles {
		if handle.path == dir {
			callbacks = append(callbacks, handle.callback)
		}
	}
	f.mu.Unlock()
	for _, callback := range callbacks {
		callback(watcher.Event{Path: file, Timestamp: time.Now()})
	}
	return len(callbacks)
}
