package watchfolder

import (
	"time"

	"watchfolder/internal/config"
	"watchfolder/internal/fileutil"
	"watchfolder/internal/naming"
)

// ConfigSource supplies the tasks a Reload reconciles against.
type ConfigSource interface {
	DefaultTaskConfig() *config.Task
	HotkeyTaskConfigs() []*config.Task
}

// Collaborators are the side effects of the trigger pipeline. Nil fields
// fall back to the filesystem implementations in this module; a nil
// SubmitForUpload drops files after logging them.
type Collaborators struct {
	ResolveScreenshotsFolder func(task *config.Task) string
	ResolveConflictingName   func(destDir, fileName string, task *config.Task) (string, error)
	EnsureDirectoryExists    func(path string) error
	MoveFile                 func(src, dst string) error
	// SubmitForUpload must not block.
	SubmitForUpload func(path string, task *config.Task)
	CloneForSafeUse func(task *config.Task) *config.Task
}

func (c Collaborators) withDefaults(now func() time.Time, drop func(string, *config.Task)) Collaborators {
	if c.ResolveScreenshotsFolder == nil {
		c.ResolveScreenshotsFolder = func(task *config.Task) string {
			return naming.ScreenshotsFolder(task.ScreenshotsRoot(), task.Pattern(), now())
		}
	}
	if c.ResolveConflictingName == nil {
		c.ResolveConflictingName = func(destDir, fileName string, _ *config.Task) (string, error) {
			return naming.ResolveConflictingName(destDir, fileName)
		}
	}
	if c.EnsureDirectoryExists == nil {
		c.EnsureDirectoryExists = fileutil.EnsureDir
	}
	if c.MoveFile == nil {
		c.MoveFile = fileutil.Move
	}
	if c.SubmitForUpload == nil {
		c.SubmitForUpload = drop
	}
	if c.CloneForSafeUse == nil {
		c.CloneForSafeUse = (*config.Task).Clone
	}
	return c
}
