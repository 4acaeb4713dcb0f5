package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSettingsFile = "watchfolder.toml"
	DefaultHTTPAddr     = "127.0.0.1:7821"
	DefaultSettleMillis = 250
	DefaultMoveAttempts = 5
)

var ErrNoSettingsPath = errors.New("settings path is required")

// Daemon holds process-level settings for the run command.
type Daemon struct {
	DataDir      string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	LogLevel     string `toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat    string `toml:"log_format,omitempty" yaml:"log_format,omitempty"`
	HTTPAddr     string `toml:"http_addr,omitempty" yaml:"http_addr,omitempty"`
	AuthToken    string `toml:"auth_token,omitempty" yaml:"auth_token,omitempty"`
	SettleMillis int    `toml:"settle_ms,omitempty" yaml:"settle_ms,omitempty"`
	MoveAttempts int    `toml:"move_attempts,omitempty" yaml:"move_attempts,omitempty"`
}

// Settings is the persisted configuration: one default task plus any number
// of hotkey-bound tasks.
type Settings struct {
	DefaultTask *Task     `toml:"default_task" yaml:"default_task"`
	Hotkeys     []*Hotkey `toml:"hotkeys" yaml:"hotkeys"`
	Daemon      Daemon    `toml:"daemon" yaml:"daemon"`

	// assignedIDs is set when Load had to generate folder IDs.
	assignedIDs bool
}

func Default() *Settings {
	settings := &Settings{}
	settings.normalize()
	return settings
}

// AssignedIDs reports whether loading generated IDs that are not yet saved.
func (settings *Settings) AssignedIDs() bool {
	return settings != nil && settings.assignedIDs
}

// Tasks returns the default task followed by every hotkey task.
func (settings *Settings) Tasks() []*Task {
	if settings == nil {
		return nil
	}
	tasks := make([]*Task, 0, len(settings.Hotkeys)+1)
	if settings.DefaultTask != nil {
		tasks = append(tasks, settings.DefaultTask)
	}
	for _, hotkey := range settings.Hotkeys {
		if hotkey != nil && hotkey.Task != nil {
			tasks = append(tasks, hotkey.Task)
		}
	}
	return tasks
}

// Load reads a TOML or YAML settings file, chosen by extension. A missing
// file yields defaults.
func Load(path string) (*Settings, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoSettingsPath
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	settings, err := Decode(payload, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return settings, nil
}

func Decode(payload []byte, format Format) (*Settings, error) {
	settings := &Settings{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(payload, settings); err != nil {
			return nil, err
		}
	default:
		if _, err := toml.Decode(string(payload), settings); err != nil {
			return nil, err
		}
	}
	settings.normalize()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Save writes settings atomically in the format implied by path.
func Save(path string, settings *Settings) error {
	if strings.TrimSpace(path) == "" {
		return ErrNoSettingsPath
	}
	if settings == nil {
		settings = Default()
	}
	payload, err := Encode(settings, formatFor(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".watchfolder-*")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace settings: %w", err)
	}
	settings.assignedIDs = false
	return nil
}

func Encode(settings *Settings, format Format) ([]byte, error) {
	snapshot := settings.snapshot()
	if format == FormatYAML {
		return yaml.Marshal(snapshot)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(snapshot); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// snapshot clones every task so encoding never races live edits.
func (settings *Settings) snapshot() *Settings {
	copied := &Settings{
		DefaultTask: settings.DefaultTask.Clone(),
		Daemon:      settings.Daemon,
	}
	for _, hotkey := range settings.Hotkeys {
		if hotkey == nil {
			continue
		}
		copied.Hotkeys = append(copied.Hotkeys, &Hotkey{
			Name: hotkey.Name,
			Keys: hotkey.Keys,
			Task: hotkey.Task.Clone(),
		})
	}
	return copied
}

// Validate rejects folder lists that cannot be watched.
func (settings *Settings) Validate() error {
	var errs []error
	for _, task := range settings.Tasks() {
		for index, folder := range task.Folders() {
			if strings.TrimSpace(folder.Path) == "" {
				errs = append(errs, fmt.Errorf("task %q folder %d: path is required", task.DisplayName(), index))
			}
			if folder.MoveToScreenshotsFolder && task.ScreenshotsRoot() == "" {
				errs = append(errs, fmt.Errorf("task %q folder %q: move requires screenshots_folder", task.DisplayName(), folder.Path))
			}
		}
	}
	for index, hotkey := range settings.Hotkeys {
		if hotkey == nil || hotkey.Task == nil {
			errs = append(errs, fmt.Errorf("hotkey %d: task is required", index))
		}
	}
	return errors.Join(errs...)
}

func (settings *Settings) normalize() {
	if settings.DefaultTask == nil {
		settings.DefaultTask = &Task{}
	}
	if settings.Daemon.HTTPAddr == "" {
		settings.Daemon.HTTPAddr = DefaultHTTPAddr
	}
	if settings.Daemon.SettleMillis <= 0 {
		settings.Daemon.SettleMillis = DefaultSettleMillis
	}
	if settings.Daemon.MoveAttempts <= 0 {
		settings.Daemon.MoveAttempts = DefaultMoveAttempts
	}

	seen := make(map[string]struct{})
	for _, task := range settings.Tasks() {
		folders := task.WatchFolders[:0]
		for _, folder := range task.WatchFolders {
			if folder == nil {
				continue
			}
			folder.Path = strings.TrimSpace(folder.Path)
			if _, dup := seen[folder.ID]; folder.ID == "" || dup {
				folder.ID = uuid.NewString()
				settings.assignedIDs = true
			}
			seen[folder.ID] = struct{}{}
			folders = append(folders, folder)
		}
		task.WatchFolders = folders
	}
}

type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}
