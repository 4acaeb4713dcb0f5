package watcher

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

// newRestartPolicy doubles the wait from restartBaseDelay and stops after
// maxRestartAttempts consecutive failures.
func newRestartPolicy() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = restartBaseDelay
	exponential.Multiplier = 2
	exponential.RandomizationFactor = 0
	exponential.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(exponential, maxRestartAttempts)
	policy.Reset()
	return policy
}

// handleError counts a backend failure and queues a rebuild of the
// fsnotify instance. Once the policy gives up, the error handler is told.
func (watcher *Watcher) handleError(err error) {
	if watcher == nil || err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.logWarn("watcher error", map[string]string{"error": err.Error()})

	watcher.mutex.Lock()
	closed := watcher.closed
	watcher.mutex.Unlock()
	if closed {
		return
	}

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		// A rebuild is already pending; it covers this error too.
		watcher.restartMutex.Unlock()
		return
	}
	if watcher.restartPolicy == nil {
		watcher.restartPolicy = newRestartPolicy()
	}
	wait := watcher.restartPolicy.NextBackOff()
	if wait == backoff.Stop {
		watcher.restartMutex.Unlock()
		watcher.reportFatal(err)
		return
	}
	watcher.restartAttempts++
	watcher.restartTimer = time.AfterFunc(wait, watcher.rebuild)
	watcher.restartMutex.Unlock()
}

func (watcher *Watcher) rebuild() {
	err := watcher.swapSource()

	watcher.restartMutex.Lock()
	watcher.restartTimer = nil
	if err == nil {
		watcher.restartAttempts = 0
		if watcher.restartPolicy != nil {
			watcher.restartPolicy.Reset()
		}
	}
	watcher.restartMutex.Unlock()

	if err != nil {
		watcher.handleError(err)
	}
}

func (watcher *Watcher) reportFatal(err error) {
	watcher.mutex.Lock()
	handler := watcher.errorHandler
	watcher.mutex.Unlock()
	if handler != nil {
		handler(err)
	}
}

// swapSource opens a new fsnotify instance, adds every referenced
// directory to it and retires the old one.
func (watcher *Watcher) swapSource() error {
	watcher.structMu.Lock()
	defer watcher.structMu.Unlock()

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	dirs := make([]string, 0, len(watcher.dirRefs))
	for dir := range watcher.dirRefs {
		dirs = append(dirs, dir)
	}
	watcher.mutex.Unlock()

	source, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	readded := 0
	for _, dir := range dirs {
		if err := source.Add(dir); err != nil {
			watcher.logWarn("watcher re-add failed", map[string]string{"path": dir, "error": err.Error()})
			continue
		}
		readded++
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		_ = source.Close()
		return nil
	}
	retired := watcher.watcher
	watcher.watcher = source
	watcher.mutex.Unlock()

	watcher.startForwarder(source)
	if retired != nil {
		_ = retired.Close()
	}
	watcher.logger.Info("watcher restarted", map[string]string{
		"directories": strconv.Itoa(readded),
	})
	return nil
}
