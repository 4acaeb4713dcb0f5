package watchfolder

import (
	"sync"
)

type pendingFile struct {
	entry *Entry
	path  string
}

// dispatcher runs one folder's file events one at a time in delivery order,
// off the watcher's goroutine. It belongs to the folder ID rather than to an
// Entry, so a folder that is disabled and enabled again, or rebuilt by
// Reload, never has two triggers running at once.
type dispatcher struct {
	run      func(entry *Entry, path string)
	inflight *sync.WaitGroup

	mu         sync.Mutex
	generation uint64
	accepting  bool
	pending    []pendingFile
	running    bool
}

func newDispatcher(run func(*Entry, string), inflight *sync.WaitGroup) *dispatcher {
	return &dispatcher{run: run, inflight: inflight}
}

// open starts accepting pushes for a new generation. Pushes tagged with an
// older generation are dropped.
func (d *dispatcher) open() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	d.accepting = true
	return d.generation
}

// release stops accepting pushes for generation. Queued files still run.
func (d *dispatcher) release(generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation == generation {
		d.accepting = false
	}
}

func (d *dispatcher) push(generation uint64, entry *Entry, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.accepting || d.generation != generation {
		return
	}
	d.pending = append(d.pending, pendingFile{entry: entry, path: path})
	if d.running {
		return
	}
	d.running = true
	if d.inflight != nil {
		d.inflight.Add(1)
	}
	go d.drain()
}

func (d *dispatcher) drain() {
	if d.inflight != nil {
		defer d.inflight.Done()
	}
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		next := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.run(next.entry, next.path)
	}
}

// idle reports whether nothing is queued, running or accepting.
func (d *dispatcher) idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.accepting && !d.running && len(d.pending) == 0
}
