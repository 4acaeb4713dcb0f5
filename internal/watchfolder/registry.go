package watchfolder

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"watchfolder/internal/config"
	"watchfolder/internal/logging"
	"watchfolder/internal/metrics"
	"watchfolder/internal/notify"
	"watchfolder/internal/watcher"
)

const (
	DefaultMoveAttempts = 5
	DefaultMoveBackoff  = 100 * time.Millisecond
	maxMoveBackoff      = 2 * time.Second
)

type Options struct {
	Collaborators Collaborators
	Sink          notify.Sink
	Logger        *logging.Logger
	Metrics       *metrics.Registry
	// MoveAttempts bounds tries for a move that fails transiently.
	MoveAttempts int
	MoveBackoff  time.Duration
	// StableWindow, when positive, waits for the file's size to hold
	// steady before moving it.
	StableWindow time.Duration
	Now          func() time.Time
}

// EntryInfo is a read-only view of an entry.
type EntryInfo struct {
	ID                      string `json:"id"`
	Path                    string `json:"path"`
	Filter                  string `json:"filter,omitempty"`
	Task                    string `json:"task"`
	Active                  bool   `json:"active"`
	IncludeSubdirectories   bool   `json:"include_subdirectories"`
	MoveToScreenshotsFolder bool   `json:"move_to_screenshots_folder"`
}

// Registry owns every Entry. Mutations are serialised by one lock; file
// events run on per-folder dispatchers and never take it.
type Registry struct {
	source ConfigSource
	watch  watcher.Watch

	collab       Collaborators
	sink         notify.Sink
	logger       *logging.Logger
	metrics      *metrics.Registry
	moveAttempts int
	moveBackoff  time.Duration
	stableWindow time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	closed  bool
	// dispatchers outlive entries until their queued files have run.
	dispatchers map[string]*dispatcher

	inflight sync.WaitGroup
}

func NewRegistry(source ConfigSource, watch watcher.Watch, opts Options) *Registry {
	logger := logging.OrDiscard(opts.Logger).Category("registry")
	registry := &Registry{
		source:       source,
		watch:        watch,
		logger:       logger,
		metrics:      opts.Metrics,
		moveAttempts: opts.MoveAttempts,
		moveBackoff:  opts.MoveBackoff,
		stableWindow: opts.StableWindow,
		now:          opts.Now,
		entries:      make(map[string]*Entry),
		dispatchers:  make(map[string]*dispatcher),
	}
	if registry.metrics == nil {
		registry.metrics = metrics.Default
	}
	if registry.moveAttempts <= 0 {
		registry.moveAttempts = DefaultMoveAttempts
	}
	if registry.moveBackoff <= 0 {
		registry.moveBackoff = DefaultMoveBackoff
	}
	if registry.now == nil {
		registry.now = time.Now
	}
	registry.sink = opts.Sink
	if registry.sink == nil {
		registry.sink = notify.NewLogSink(logger)
	}
	registry.collab = opts.Collaborators.withDefaults(registry.now, func(path string, task *config.Task) {
		logger.Warn("no upload pipeline configured", map[string]string{"path": path, "task": task.DisplayName()})
	})
	return registry
}

// Reload drops every entry and rebuilds the set from the default task and
// then each hotkey task. Errors are collected; one failing folder does not
// stop the others from being watched.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}

	errs := r.closeAllLocked()
	if r.source != nil {
		if task := r.source.DefaultTaskConfig(); task != nil {
			errs = append(errs, r.addTaskLocked(task)...)
		}
		for _, task := range r.source.HotkeyTaskConfigs() {
			if task != nil {
				errs = append(errs, r.addTaskLocked(task)...)
			}
		}
	}

	r.pruneDispatchersLocked()
	err := errors.Join(errs...)
	r.metrics.IncReload(err)
	level := "info"
	if err != nil {
		level = "warning"
	}
	r.emit(notify.Event{
		Kind:    notify.KindReloaded,
		Level:   level,
		Message: "watch folders reloaded",
		Fields: map[string]string{
			"entries": strconv.Itoa(len(r.entries)),
			"active":  strconv.Itoa(r.activeCountLocked()),
		},
	})
	return err
}

func (r *Registry) addTaskLocked(task *config.Task) []error {
	var errs []error
	for _, folder := range task.Folders() {
		if err := r.addLocked(folder, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Add creates an entry for folder unless one with the same ID exists. The
// folder is appended to task when task does not list it yet. The entry is
// enabled only if task has watching enabled.
func (r *Registry) Add(folder *config.WatchFolder, task *config.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	return r.addLocked(folder, task)
}

func (r *Registry) addLocked(folder *config.WatchFolder, task *config.Task) error {
	if folder == nil {
		return ErrFolderRequired
	}
	if folder.ID == "" {
		return ErrFolderIDRequired
	}
	if task == nil {
		return ErrTaskRequired
	}
	if _, ok := r.entries[folder.ID]; ok {
		return nil
	}
	if task.AddFolder(folder) {
		r.logger.Info("folder added to task", map[string]string{
			"folder": folder.ID,
			"task":   task.DisplayName(),
		})
	}

	entry := newEntry(folder, task, r.watch, r.dispatcherLocked(folder.ID), r.metrics)
	r.entries[folder.ID] = entry
	r.order = append(r.order, folder.ID)

	if !task.WatchingEnabled() {
		return nil
	}
	return r.enableLocked(entry)
}

// Remove drops folder from its task and releases its watch. Unknown
// folders are ignored.
func (r *Registry) Remove(folder *config.WatchFolder) error {
	if folder == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[folder.ID]
	if !ok {
		return nil
	}
	entry.task.RemoveFolder(folder.ID)
	err := entry.Close()
	delete(r.entries, folder.ID)
	r.removeOrderLocked(folder.ID)
	r.pruneDispatchersLocked()
	r.logger.Info("watch folder removed", map[string]string{"folder": folder.ID, "path": folder.Path})
	return err
}

// UpdateState enables or disables the folder's entry to match its task.
// The entry stays registered either way. Unknown folders are ignored.
func (r *Registry) UpdateState(folder *config.WatchFolder) error {
	if folder == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[folder.ID]
	if !ok {
		return nil
	}
	if entry.task.WatchingEnabled() {
		return r.enableLocked(entry)
	}
	return r.disableLocked(entry)
}

// Shutdown releases every watch and refuses further changes. It does not
// wait for in-flight file events; see Wait.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := errors.Join(r.closeAllLocked()...)
	r.pruneDispatchersLocked()
	return err
}

// Wait blocks until file events already accepted have finished or ctx is
// done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries lists entries in the order they were added.
func (r *Registry) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]EntryInfo, 0, len(r.order))
	for _, id := range r.order {
		entry := r.entries[id]
		if entry == nil {
			continue
		}
		infos = append(infos, EntryInfo{
			ID:                      entry.folder.ID,
			Path:                    entry.folder.Path,
			Filter:                  entry.folder.Filter,
			Task:                    entry.task.DisplayName(),
			Active:                  entry.Active(),
			IncludeSubdirectories:   entry.folder.IncludeSubdirectories,
			MoveToScreenshotsFolder: entry.folder.MoveToScreenshotsFolder,
		})
	}
	return infos
}

// Entry returns the live entry for a folder ID.
func (r *Registry) Entry(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	return entry, ok
}

func (r *Registry) enableLocked(entry *Entry) error {
	if entry.Active() {
		return nil
	}
	if err := entry.Enable(); err != nil {
		r.logger.Error("watch enable failed", map[string]string{
			"folder": entry.folder.ID,
			"path":   entry.folder.Path,
			"error":  err.Error(),
		})
		r.emit(notify.Event{
			Kind:    notify.KindWatchFailed,
			Level:   "error",
			Message: err.Error(),
			Fields:  map[string]string{"folder": entry.folder.ID, "path": entry.folder.Path},
		})
		return err
	}
	r.emit(notify.Event{
		Kind:    notify.KindWatchEnabled,
		Level:   "debug",
		Message: "watching folder",
		Fields:  map[string]string{"folder": entry.folder.ID, "path": entry.folder.Path, "task": entry.task.DisplayName()},
	})
	return nil
}

func (r *Registry) disableLocked(entry *Entry) error {
	if !entry.Active() {
		return nil
	}
	err := entry.Disable()
	r.emit(notify.Event{
		Kind:    notify.KindWatchDisabled,
		Level:   "debug",
		Message: "stopped watching folder",
		Fields:  map[string]string{"folder": entry.folder.ID, "path": entry.folder.Path},
	})
	return err
}

func (r *Registry) closeAllLocked() []error {
	var errs []error
	for _, id := range r.order {
		if entry := r.entries[id]; entry != nil {
			if err := entry.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.entries = make(map[string]*Entry)
	r.order = nil
	return errs
}

func (r *Registry) dispatcherLocked(id string) *dispatcher {
	if existing, ok := r.dispatchers[id]; ok {
		return existing
	}
	created := newDispatcher(r.handleFile, &r.inflight)
	r.dispatchers[id] = created
	return created
}

// pruneDispatchersLocked forgets dispatchers of folders that are gone and
// have nothing left to run. A busy one is kept so a folder added back
// while its old files drain still queues behind them.
func (r *Registry) pruneDispatchersLocked() {
	for id, queue := range r.dispatchers {
		if _, live := r.entries[id]; live {
			continue
		}
		if queue.idle() {
			delete(r.dispatchers, id)
		}
	}
}

func (r *Registry) removeOrderLocked(id string) {
	for index, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:index], r.order[index+1:]...)
			return
		}
	}
}

func (r *Registry) activeCountLocked() int {
	count := 0
	for _, entry := range r.entries {
		if entry.Active() {
			count++
		}
	}
	return count
}

func (r *Registry) emit(event notify.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	if err := r.sink.Emit(context.Background(), event); err != nil {
		r.logger.Warn("diagnostics sink failed", map[string]string{"kind": event.Kind, "error": err.Error()})
	}
}
