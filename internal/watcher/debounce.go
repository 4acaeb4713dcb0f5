package watcher

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type pendingCreate struct {
	timer      *time.Timer
	event      Event
	generation uint64
}

// settler holds creations until writes to the same path pause. All methods
// are called with the watcher mutex held.
type settler struct {
	duration time.Duration
	entries  map[string]*pendingCreate
}

func newSettler(duration time.Duration) *settler {
	return &settler{
		duration: duration,
		entries:  make(map[string]*pendingCreate),
	}
}

func (settler *settler) arm(path string, event Event, flush func(string, uint64)) bool {
	if settler == nil || settler.entries == nil {
		return false
	}
	if entry, ok := settler.entries[path]; ok {
		entry.generation++
		generation := entry.generation
		entry.timer.Stop()
		entry.timer = time.AfterFunc(settler.duration, func() { flush(path, generation) })
		return true
	}
	entry := &pendingCreate{event: event}
	entry.timer = time.AfterFunc(settler.duration, func() { flush(path, 0) })
	settler.entries[path] = entry
	return false
}

// touch re-arms a pending creation. Writes to paths that were never seen as
// created are ignored.
func (settler *settler) touch(path string, flush func(string, uint64)) {
	if settler == nil || settler.entries == nil {
		return
	}
	entry, ok := settler.entries[path]
	if !ok {
		return
	}
	entry.generation++
	generation := entry.generation
	entry.timer.Stop()
	entry.timer = time.AfterFunc(settler.duration, func() { flush(path, generation) })
}

func (settler *settler) cancel(path string) {
	if settler == nil || settler.entries == nil {
		return
	}
	if entry, ok := settler.entries[path]; ok {
		entry.timer.Stop()
		delete(settler.entries, path)
	}
}

func (settler *settler) pop(path string, generation uint64) (Event, bool) {
	if settler == nil || settler.entries == nil {
		return Event{}, false
	}
	entry, ok := settler.entries[path]
	if !ok || entry.generation != generation {
		return Event{}, false
	}
	delete(settler.entries, path)
	return entry.event, true
}

func (settler *settler) pending() int {
	if settler == nil {
		return 0
	}
	return len(settler.entries)
}

func (settler *settler) stop() {
	if settler == nil {
		return
	}
	for _, entry := range settler.entries {
		entry.timer.Stop()
	}
	settler.entries = nil
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		watcher.handleCreate(event)
	case event.Has(fsnotify.Write):
		watcher.mutex.Lock()
		if !watcher.closed {
			watcher.settler.touch(event.Name, watcher.flush)
		}
		watcher.mutex.Unlock()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		watcher.mutex.Lock()
		if !watcher.closed {
			watcher.settler.cancel(event.Name)
			delete(watcher.recent, event.Name)
		}
		watcher.mutex.Unlock()
	}
}

func (watcher *Watcher) handleCreate(event fsnotify.Event) {
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		watcher.followNewDir(event.Name)
		return
	}
	watcher.schedule(event.Name, event.Op)
}

func (watcher *Watcher) schedule(path string, op fsnotify.Op) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	callbacks, covered := watcher.matchingCallbacksLocked(path)
	if !covered {
		watcher.mutex.Unlock()
		return
	}
	if len(callbacks) == 0 {
		watcher.mutex.Unlock()
		atomic.AddUint64(&watcher.eventsFiltered, 1)
		return
	}
	now := time.Now().UTC()
	if watcher.seenRecentlyLocked(path, now) {
		watcher.mutex.Unlock()
		return
	}
	entry := Event{
		Path:      path,
		Op:        op,
		Timestamp: now,
	}
	if watcher.settler != nil {
		watcher.settler.arm(path, entry, watcher.flush)
		watcher.mutex.Unlock()
		return
	}
	watcher.mutex.Unlock()
	watcher.deliver(entry, callbacks)
}

func (watcher *Watcher) flush(path string, generation uint64) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.settler.pop(path, generation)
	if !ok {
		watcher.mutex.Unlock()
		return
	}
	callbacks, _ := watcher.matchingCallbacksLocked(path)
	watcher.mutex.Unlock()

	watcher.deliver(event, callbacks)
}

func (watcher *Watcher) deliver(event Event, callbacks []func(Event)) {
	for _, callback := range callbacks {
		callback(event)
		atomic.AddUint64(&watcher.eventsDelivered, 1)
	}
}

// seenRecentlyLocked suppresses a second creation report for the same path,
// which happens when a new directory is scanned right after its watch was
// added. Caller holds mutex.
func (watcher *Watcher) seenRecentlyLocked(path string, now time.Time) bool {
	if at, ok := watcher.recent[path]; ok && now.Sub(at) < recentWindow {
		return true
	}
	if len(watcher.recent) > 256 {
		for key, at := range watcher.recent {
			if now.Sub(at) >= recentWindow {
				delete(watcher.recent, key)
			}
		}
	}
	watcher.recent[path] = now
	return false
}
