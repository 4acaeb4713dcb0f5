package watchfolder

import (
	"sync"
	"sync/atomic"

	"watchfolder/internal/config"
	"watchfolder/internal/metrics"
	"watchfolder/internal/watcher"
)

type entryState int32

const (
	stateDisabled entryState = iota
	stateEnabled
	stateClosed
)

func (s entryState) String() string {
	switch s {
	case stateEnabled:
		return "enabled"
	case stateClosed:
		return "closed"
	default:
		return "disabled"
	}
}

// Entry watches one folder on behalf of one task. The handle is non-nil
// exactly while the entry is enabled.
type Entry struct {
	folder *config.WatchFolder
	task   *config.Task

	watch   watcher.Watch
	events  *dispatcher
	metrics *metrics.Registry

	mu         sync.Mutex
	handle     watcher.Handle
	generation uint64
	state      atomic.Int32
}

func newEntry(folder *config.WatchFolder, task *config.Task, watch watcher.Watch, events *dispatcher, registry *metrics.Registry) *Entry {
	return &Entry{
		folder:  folder,
		task:    task,
		watch:   watch,
		events:  events,
		metrics: registry,
	}
}

func (e *Entry) Folder() *config.WatchFolder {
	return e.folder
}

func (e *Entry) Task() *config.Task {
	return e.task
}

// Active reports whether the entry currently holds a live watch.
func (e *Entry) Active() bool {
	return entryState(e.state.Load()) == stateEnabled
}

func (e *Entry) Closed() bool {
	return entryState(e.state.Load()) == stateClosed
}

// Enable opens the OS watch. It is a no-op when already enabled.
func (e *Entry) Enable() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch entryState(e.state.Load()) {
	case stateEnabled:
		return nil
	case stateClosed:
		return &WatchHandleError{Op: "enable", FolderID: e.folder.ID, Path: e.folder.Path, Err: ErrEntryClosed}
	}

	generation := e.events.open()
	handle, err := e.watch.Watch(e.folder.Path, watcher.WatchOptions{
		Filters:   e.folder.Filters(),
		Recursive: e.folder.IncludeSubdirectories,
	}, func(event watcher.Event) {
		e.events.push(generation, e, event.Path)
	})
	if err != nil {
		e.events.release(generation)
		return &WatchHandleError{Op: "enable", FolderID: e.folder.ID, Path: e.folder.Path, Err: err}
	}
	e.handle = handle
	e.generation = generation
	e.state.Store(int32(stateEnabled))
	e.metrics.HandleOpened()
	return nil
}

// Disable releases the OS watch so no further events are accepted. Events
// already accepted still run. Disable on a disabled entry is a no-op.
func (e *Entry) Disable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseLocked(stateDisabled)
}

// Close disables the entry for good. It is safe to call repeatedly.
func (e *Entry) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseLocked(stateClosed)
}

func (e *Entry) releaseLocked(next entryState) error {
	current := entryState(e.state.Load())
	if current == stateClosed {
		return nil
	}
	if current != stateEnabled {
		e.state.Store(int32(next))
		return nil
	}

	handle := e.handle
	e.handle = nil
	e.events.release(e.generation)
	e.state.Store(int32(next))
	e.metrics.HandleClosed()

	if handle == nil {
		return nil
	}
	if err := handle.Close(); err != nil {
		return &WatchHandleError{Op: "disable", FolderID: e.folder.ID, Path: e.folder.Path, Err: err}
	}
	return nil
}
