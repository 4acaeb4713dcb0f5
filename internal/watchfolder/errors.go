package watchfolder

import (
	"errors"
	"fmt"
)

var (
	ErrRegistryClosed      = errors.New("watch registry closed")
	ErrEntryClosed         = errors.New("watch entry closed")
	ErrFolderRequired      = errors.New("watch folder is required")
	ErrFolderIDRequired    = errors.New("watch folder id is required")
	ErrTaskRequired        = errors.New("task is required")
	ErrNoScreenshotsFolder = errors.New("task has no screenshots folder")
)

// WatchHandleError reports a failure to create or release the OS watch for
// a folder. The folder is not being monitored when Op is "enable".
type WatchHandleError struct {
	Op       string
	FolderID string
	Path     string
	Err      error
}

func (e *WatchHandleError) Error() string {
	return fmt.Sprintf("%s watch %s (%s): %v", e.Op, e.Path, e.FolderID, e.Err)
}

func (e *WatchHandleError) Unwrap() error {
	return e.Err
}

// TriggerError reports a failed file event. It is terminal for that one
// event only.
type TriggerError struct {
	FolderID string
	Path     string
	Stage    string
	Attempts int
	Err      error
}

func (e *TriggerError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s after %d attempts: %v", e.Stage, e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}
