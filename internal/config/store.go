package config

import (
	"sync"
)

// Store owns the live Settings for a running process and swaps them on
// reload. It is the configuration source the watch registry reconciles
// against.
type Store struct {
	mu       sync.RWMutex
	path     string
	settings *Settings
}

func NewStore(path string, settings *Settings) *Store {
	if settings == nil {
		settings = Default()
	}
	return &Store{path: path, settings: settings}
}

// OpenStore loads path and persists any IDs generated during loading so
// folder identity survives restarts.
func OpenStore(path string) (*Store, error) {
	settings, err := Load(path)
	if err != nil {
		return nil, err
	}
	store := NewStore(path, settings)
	if settings.AssignedIDs() {
		if err := store.Save(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (store *Store) Path() string {
	if store == nil {
		return ""
	}
	return store.path
}

func (store *Store) Settings() *Settings {
	if store == nil {
		return nil
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.settings
}

// Reload re-reads the file. On error the previous settings stay active.
func (store *Store) Reload() (*Settings, error) {
	settings, err := Load(store.path)
	if err != nil {
		return nil, err
	}
	store.mu.Lock()
	store.settings = settings
	store.mu.Unlock()
	if settings.AssignedIDs() {
		if err := store.Save(); err != nil {
			return settings, err
		}
	}
	return settings, nil
}

func (store *Store) Save() error {
	return Save(store.path, store.Settings())
}

func (store *Store) DefaultTaskConfig() *Task {
	settings := store.Settings()
	if settings == nil {
		return nil
	}
	return settings.DefaultTask
}

func (store *Store) HotkeyTaskConfigs() []*Task {
	settings := store.Settings()
	if settings == nil {
		return nil
	}
	tasks := make([]*Task, 0, len(settings.Hotkeys))
	for _, hotkey := range settings.Hotkeys {
		if hotkey != nil && hotkey.Task != nil {
			tasks = append(tasks, hotkey.Task)
		}
	}
	return tasks
}
