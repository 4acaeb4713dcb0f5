package watchfolder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"watchfolder/internal/config"
	"watchfolder/internal/fileutil"
	"watchfolder/internal/notify"
)

const stableChecks = 20

// handleFile runs on the entry's dispatcher goroutine. Nothing it does can
// reach the watcher: failures and panics end here.
func (r *Registry) handleFile(entry *Entry, path string) {
	folder := entry.folder
	defer func() {
		if recovered := recover(); recovered != nil {
			r.fail(&TriggerError{FolderID: folder.ID, Path: path, Stage: "trigger", Err: fmt.Errorf("panic: %v", recovered)})
		}
	}()

	r.metrics.IncTrigger()
	snapshot := r.collab.CloneForSafeUse(entry.task)

	dest, err := r.relocate(context.Background(), folder, snapshot, path)
	if err != nil {
		r.fail(err)
		return
	}

	start := time.Now()
	r.collab.SubmitForUpload(dest, snapshot)
	r.metrics.RecordStage("submit", time.Since(start), nil, 1)
	r.emit(notify.Event{
		Kind:    notify.KindFileSubmitted,
		Level:   "info",
		Message: "file submitted for upload",
		Fields: map[string]string{
			"folder": folder.ID,
			"path":   dest,
			"task":   snapshot.DisplayName(),
		},
	})
}

// relocate returns the path to upload: path itself, or where it was moved.
func (r *Registry) relocate(ctx context.Context, folder *config.WatchFolder, snapshot *config.Task, path string) (string, error) {
	if !folder.MoveToScreenshotsFolder {
		return path, nil
	}
	stageErr := func(stage string, err error) error {
		return &TriggerError{FolderID: folder.ID, Path: path, Stage: stage, Err: err}
	}

	if r.stableWindow > 0 {
		if err := fileutil.WaitStable(ctx, path, r.stableWindow, stableChecks); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", stageErr("stat", err)
			}
			r.logger.Debug("file not stable, moving anyway", map[string]string{"path": path, "error": err.Error()})
		}
	}

	destDir := r.collab.ResolveScreenshotsFolder(snapshot)
	if destDir == "" {
		return "", stageErr("resolve", ErrNoScreenshotsFolder)
	}
	// Moving into the watch would report the file again and move it forever.
	if watchCovers(folder, destDir) {
		r.logger.Warn("screenshots folder is inside the watched folder; not moving", map[string]string{
			"folder": folder.ID,
			"path":   path,
			"dest":   destDir,
		})
		return path, nil
	}
	dest, err := r.collab.ResolveConflictingName(destDir, filepath.Base(path), snapshot)
	if err != nil {
		return "", stageErr("resolve", err)
	}
	if err := r.collab.EnsureDirectoryExists(destDir); err != nil {
		return "", stageErr("ensure_dir", err)
	}

	start := time.Now()
	attempts, err := r.moveWithRetry(ctx, path, dest)
	r.metrics.RecordStage("move", time.Since(start), err, attempts)
	if err != nil {
		return "", &TriggerError{FolderID: folder.ID, Path: path, Stage: "move", Attempts: attempts, Err: err}
	}
	r.metrics.IncMove()
	r.emit(notify.Event{
		Kind:    notify.KindFileMoved,
		Level:   "debug",
		Message: "file moved",
		Fields: map[string]string{
			"folder":   folder.ID,
			"from":     path,
			"to":       dest,
			"attempts": strconv.Itoa(attempts),
		},
	})
	return dest, nil
}

// moveWithRetry retries transient failures, usually the producer still
// holding the file, with exponential backoff.
func (r *Registry) moveWithRetry(ctx context.Context, src, dst string) (int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.moveBackoff
	policy.MaxInterval = maxMoveBackoff
	policy.MaxElapsedTime = 0
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.moveAttempts-1)), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		err := r.collab.MoveFile(src, dst)
		if err == nil || fileutil.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	onRetry := func(err error, wait time.Duration) {
		r.metrics.IncMoveRetry()
		r.logger.Debug("move failed, retrying", map[string]string{
			"path":  src,
			"error": err.Error(),
			"wait":  wait.String(),
		})
	}
	err := backoff.RetryNotify(operation, bounded, onRetry)
	return attempts, err
}

// watchCovers reports whether files created in dir are seen by folder's
// watch.
func watchCovers(folder *config.WatchFolder, dir string) bool {
	root := filepath.Clean(folder.Path)
	dir = filepath.Clean(dir)
	if dir == root {
		return true
	}
	if !folder.IncludeSubdirectories {
		return false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func (r *Registry) fail(err error) {
	r.metrics.IncTriggerFailure()
	fields := map[string]string{"error": err.Error()}
	var triggerErr *TriggerError
	if errors.As(err, &triggerErr) {
		fields["folder"] = triggerErr.FolderID
		fields["path"] = triggerErr.Path
		fields["stage"] = triggerErr.Stage
	}
	r.emit(notify.Event{
		Kind:    notify.KindTriggerFailed,
		Level:   "error",
		Message: "file event failed",
		Fields:  fields,
	})
}
