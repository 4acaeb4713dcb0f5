package fileutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	if path == "" {
		return errors.New("directory path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// Move renames src to dst, falling back to a verified copy and delete when
// the two paths live on different devices. An existing dst is never
// overwritten.
func Move(src, dst string) error {
	if src == "" || dst == "" {
		return errors.New("move requires source and destination")
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: %w", dst, os.ErrExist)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}
	if err := copyFileVerified(src, dst); err != nil {
		return fmt.Errorf("copy across devices: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// IsTransient reports whether err is the kind of failure that goes away once
// the producing process lets go of the file.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrExist) {
		return false
	}
	return isLockedError(err) || errors.Is(err, os.ErrPermission)
}

// WaitStable polls path until its size and modification time hold steady
// for window, giving up after attempts checks.
func WaitStable(ctx context.Context, path string, window time.Duration, attempts int) error {
	if window <= 0 {
		return nil
	}
	if attempts <= 0 {
		attempts = 1
	}
	previous, err := os.Stat(path)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < attempts; attempt++ {
		timer := time.NewTimer(window)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		current, err := os.Stat(path)
		if err != nil {
			return err
		}
		if current.Size() == previous.Size() && current.ModTime().Equal(previous.ModTime()) {
			return nil
		}
		previous = current
	}
	return fmt.Errorf("%s still changing after %d checks: %w", filepath.Base(path), attempts, ErrUnstable)
}

var ErrUnstable = errors.New("file is still being written")

func copyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return errors.New("copy hash mismatch")
	}
	return nil
}
