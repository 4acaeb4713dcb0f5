package config

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// WatchFolder describes one directory to watch. ID is the identity used for
// deduplication; two folders with the same Path but different IDs are
// separate watch targets. A WatchFolder is treated as immutable once it has
// been handed to a Task.
type WatchFolder struct {
	ID                      string `toml:"id" yaml:"id"`
	Path                    string `toml:"path" yaml:"path"`
	Filter                  string `toml:"filter,omitempty" yaml:"filter,omitempty"`
	IncludeSubdirectories   bool   `toml:"include_subdirectories,omitempty" yaml:"include_subdirectories,omitempty"`
	MoveToScreenshotsFolder bool   `toml:"move_to_screenshots_folder,omitempty" yaml:"move_to_screenshots_folder,omitempty"`
}

// NewWatchFolder returns a folder config with a freshly generated ID.
func NewWatchFolder(path string) *WatchFolder {
	return &WatchFolder{
		ID:   uuid.NewString(),
		Path: path,
	}
}

// Filters splits Filter on ';' or ','. Catch-all patterns collapse to nil.
func (folder *WatchFolder) Filters() []string {
	if folder == nil {
		return nil
	}
	parts := strings.FieldsFunc(folder.Filter, func(r rune) bool {
		return r == ';' || r == ','
	})
	filters := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" || part == "*.*" {
			return nil
		}
		filters = append(filters, part)
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func (folder *WatchFolder) clone() *WatchFolder {
	if folder == nil {
		return nil
	}
	copied := *folder
	return &copied
}

// Task is a unit of capture/upload behaviour. It is shared between the
// settings store and the watch registry, so the folder list and the watching
// flag are guarded by an internal lock and must be accessed through methods
// once the Task is live.
type Task struct {
	mu sync.RWMutex

	Name               string         `toml:"name" yaml:"name"`
	WatchFolderEnabled bool           `toml:"watch_folder_enabled" yaml:"watch_folder_enabled"`
	WatchFolders       []*WatchFolder `toml:"watch_folders" yaml:"watch_folders"`
	ScreenshotsFolder  string         `toml:"screenshots_folder,omitempty" yaml:"screenshots_folder,omitempty"`
	SubFolderPattern   string         `toml:"sub_folder_pattern,omitempty" yaml:"sub_folder_pattern,omitempty"`
	Destination        string         `toml:"destination,omitempty" yaml:"destination,omitempty"`
}

func (task *Task) DisplayName() string {
	if task == nil {
		return ""
	}
	task.mu.RLock()
	defer task.mu.RUnlock()
	if strings.TrimSpace(task.Name) == "" {
		return "default"
	}
	return task.Name
}

func (task *Task) WatchingEnabled() bool {
	if task == nil {
		return false
	}
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.WatchFolderEnabled
}

func (task *Task) SetWatchingEnabled(enabled bool) {
	if task == nil {
		return
	}
	task.mu.Lock()
	task.WatchFolderEnabled = enabled
	task.mu.Unlock()
}

// Folders returns a copy of the folder list. The folder pointers are shared.
func (task *Task) Folders() []*WatchFolder {
	if task == nil {
		return nil
	}
	task.mu.RLock()
	defer task.mu.RUnlock()
	folders := make([]*WatchFolder, 0, len(task.WatchFolders))
	for _, folder := range task.WatchFolders {
		if folder != nil {
			folders = append(folders, folder)
		}
	}
	return folders
}

func (task *Task) HasFolder(id string) bool {
	if task == nil || id == "" {
		return false
	}
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.indexLocked(id) >= 0
}

// AddFolder appends folder unless a folder with the same ID is listed.
func (task *Task) AddFolder(folder *WatchFolder) bool {
	if task == nil || folder == nil {
		return false
	}
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.indexLocked(folder.ID) >= 0 {
		return false
	}
	task.WatchFolders = append(task.WatchFolders, folder)
	return true
}

func (task *Task) RemoveFolder(id string) bool {
	if task == nil || id == "" {
		return false
	}
	task.mu.Lock()
	defer task.mu.Unlock()
	index := task.indexLocked(id)
	if index < 0 {
		return false
	}
	task.WatchFolders = append(task.WatchFolders[:index], task.WatchFolders[index+1:]...)
	return true
}

func (task *Task) indexLocked(id string) int {
	for index, folder := range task.WatchFolders {
		if folder != nil && folder.ID == id {
			return index
		}
	}
	return -1
}

// Clone returns a snapshot that shares nothing mutable with task.
func (task *Task) Clone() *Task {
	if task == nil {
		return nil
	}
	task.mu.RLock()
	defer task.mu.RUnlock()
	folders := make([]*WatchFolder, 0, len(task.WatchFolders))
	for _, folder := range task.WatchFolders {
		if folder != nil {
			folders = append(folders, folder.clone())
		}
	}
	return &Task{
		Name:               task.Name,
		WatchFolderEnabled: task.WatchFolderEnabled,
		WatchFolders:       folders,
		ScreenshotsFolder:  task.ScreenshotsFolder,
		SubFolderPattern:   task.SubFolderPattern,
		Destination:        task.Destination,
	}
}

// ScreenshotsRoot is the configured screenshots folder, made absolute.
func (task *Task) ScreenshotsRoot() string {
	if task == nil {
		return ""
	}
	task.mu.RLock()
	root := strings.TrimSpace(task.ScreenshotsFolder)
	task.mu.RUnlock()
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

// Pattern returns the sub-folder pattern under the read lock.
func (task *Task) Pattern() string {
	if task == nil {
		return ""
	}
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.SubFolderPattern
}

// Hotkey binds a key combination to its own Task.
type Hotkey struct {
	Name string `toml:"name" yaml:"name"`
	Keys string `toml:"keys,omitempty" yaml:"keys,omitempty"`
	Task *Task  `toml:"task" yaml:"task"`
}
