package main

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"watchfolder/internal/logging"
)

const settingsReloadDelay = 200 * time.Millisecond

// settingsWatcher calls onChange once edits to a settings file settle. The
// parent directory is watched so editors that replace the file by rename
// are seen too.
type settingsWatcher struct {
	path     string
	delay    time.Duration
	onChange func()
	logger   *logging.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

func startSettingsWatcher(path string, delay time.Duration, logger *logging.Logger, onChange func()) (*settingsWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := source.Add(filepath.Dir(absPath)); err != nil {
		_ = source.Close()
		return nil, err
	}
	if delay <= 0 {
		delay = settingsReloadDelay
	}
	watch := &settingsWatcher{
		path:     absPath,
		delay:    delay,
		onChange: onChange,
		logger:   logging.OrDiscard(logger),
		watcher:  source,
		done:     make(chan struct{}),
	}
	watch.stopped.Add(1)
	go watch.run()
	return watch, nil
}

func (watch *settingsWatcher) run() {
	defer watch.stopped.Done()
	for {
		select {
		case <-watch.done:
			return
		case event, ok := <-watch.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != watch.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			watch.schedule()
		case err, ok := <-watch.watcher.Errors:
			if !ok {
				return
			}
			watch.logger.Warn("settings watch error", map[string]string{"path": watch.path, "error": err.Error()})
		}
	}
}

func (watch *settingsWatcher) schedule() {
	watch.mu.Lock()
	defer watch.mu.Unlock()
	if watch.timer != nil {
		watch.timer.Stop()
	}
	watch.timer = time.AfterFunc(watch.delay, func() {
		select {
		case <-watch.done:
			return
		default:
		}
		watch.onChange()
	})
}

func (watch *settingsWatcher) Close() error {
	if watch == nil {
		return nil
	}
	select {
	case <-watch.done:
		return nil
	default:
	}
	close(watch.done)
	watch.mu.Lock()
	if watch.timer != nil {
		watch.timer.Stop()
	}
	watch.mu.Unlock()
	err := watch.watcher.Close()
	watch.stopped.Wait()
	return err
}
