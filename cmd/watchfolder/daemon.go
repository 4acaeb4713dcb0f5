package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"watchfolder/internal/api"
	"watchfolder/internal/config"
	"watchfolder/internal/event"
	"watchfolder/internal/fileutil"
	"watchfolder/internal/logging"
	"watchfolder/internal/metrics"
	"watchfolder/internal/notify"
	"watchfolder/internal/upload"
	"watchfolder/internal/watcher"
	"watchfolder/internal/watchfolder"
)

const (
	lockFileName        = "watchfolder.lock"
	defaultStableWindow = 100 * time.Millisecond
	eventHistorySize    = 256
)

var errAlreadyRunning = errors.New("another watchfolder daemon is already running")

type daemonOptions struct {
	SettingsPath string
	Settings     *config.Settings
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	// ReloadDelay debounces settings file changes.
	ReloadDelay time.Duration
	// Ready, when set, is called once every component is running.
	Ready func(d *daemon)
}

// daemon is the wired runtime of the run command.
type daemon struct {
	logger  *logging.Logger
	metrics *metrics.Registry

	lock          *flock.Flock
	store         *config.Store
	events        *event.Bus[notify.Event]
	sink          notify.Sink
	queue         *upload.Queue
	watcher       *watcher.Watcher
	registry      *watchfolder.Registry
	settingsWatch *settingsWatcher
	server        *http.Server
	listener      net.Listener
	serveDone     chan struct{}

	coordinator *shutdownCoordinator
}

func startDaemon(ctx context.Context, opts daemonOptions) (*daemon, error) {
	if opts.Settings == nil {
		return nil, errors.New("daemon requires settings")
	}
	logger := logging.OrDiscard(opts.Logger)
	d := &daemon{
		logger:  logger.Category("daemon"),
		metrics: opts.Metrics,
	}
	if d.metrics == nil {
		d.metrics = metrics.Default
	}
	d.coordinator = d.newCoordinator()

	if err := d.start(ctx, opts, logger); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.coordinator.Run(shutdownCtx)
		return nil, err
	}
	return d, nil
}

func (d *daemon) start(ctx context.Context, opts daemonOptions, logger *logging.Logger) error {
	daemonSettings := opts.Settings.Daemon
	dataDir := daemonSettings.ResolvedDataDir()
	if err := fileutil.EnsureDir(dataDir); err != nil {
		return err
	}

	d.lock = flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		d.lock = nil
		return errAlreadyRunning
	}

	// The store holds the file as written; env overrides only apply to the
	// daemon section already resolved in opts.Settings.
	if opts.SettingsPath != "" {
		d.store, err = config.OpenStore(opts.SettingsPath)
		if err != nil {
			return err
		}
	} else {
		d.store = config.NewStore("", opts.Settings)
	}

	d.events = event.NewBus[notify.Event](ctx, event.BusOptions{
		Name:        "diagnostics",
		HistorySize: eventHistorySize,
		Registry:    d.metrics,
		Logger:      logger,
	})
	d.sink = notify.Fanout{
		notify.NewLogSink(logger.Category("trigger")),
		notify.NewBusSink(d.events),
	}

	d.queue, err = upload.Open(ctx, dataDir, upload.Options{Logger: logger, Metrics: d.metrics})
	if err != nil {
		return err
	}

	d.watcher, err = watcher.NewWithOptions(watcher.Options{
		Logger:       logger,
		Settle:       time.Duration(daemonSettings.SettleMillis) * time.Millisecond,
		ErrorHandler: d.watcherFailed,
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	d.registry = watchfolder.NewRegistry(d.store, d.watcher, watchfolder.Options{
		Collaborators: watchfolder.Collaborators{SubmitForUpload: d.queue.Submit},
		Sink:          d.sink,
		Logger:        logger,
		Metrics:       d.metrics,
		MoveAttempts:  daemonSettings.MoveAttempts,
		StableWindow:  defaultStableWindow,
	})
	if err := d.registry.Reload(); err != nil {
		d.logger.Warn("some folders are not being watched", map[string]string{"error": err.Error()})
	}
	d.logger.Info("watch folders loaded", map[string]string{
		"entries": strconv.Itoa(d.registry.Len()),
		"data":    dataDir,
	})

	if opts.SettingsPath != "" {
		d.settingsWatch, err = startSettingsWatcher(opts.SettingsPath, opts.ReloadDelay, logger, d.reloadSettings)
		if err != nil {
			d.logger.Warn("settings file will not be reloaded on change", map[string]string{
				"path":  opts.SettingsPath,
				"error": err.Error(),
			})
		}
	}

	return d.startHTTP(daemonSettings, logger)
}

func (d *daemon) startHTTP(settings config.Daemon, logger *logging.Logger) error {
	addr := strings.TrimSpace(settings.HTTPAddr)
	if addr == "" || strings.EqualFold(addr, "off") {
		return nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	server := api.NewServer(api.Config{
		Watches:   d.registry,
		Uploads:   d.queue,
		Events:    d.events,
		Logger:    logger,
		Metrics:   d.metrics,
		AuthToken: settings.AuthToken,
	})
	d.listener = listener
	d.server = &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.serveDone = make(chan struct{})
	go func() {
		defer close(d.serveDone)
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("http server stopped", map[string]string{"error": err.Error()})
		}
	}()
	d.logger.Info("watchfolder listening", map[string]string{"addr": listener.Addr().String()})
	return nil
}

// Addr is the bound HTTP address, or "" when HTTP is off.
func (d *daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// reloadSettings re-reads the settings file and reconciles the registry.
// A file that fails to load leaves the current watches untouched.
func (d *daemon) reloadSettings() {
	if _, err := d.store.Reload(); err != nil {
		d.logger.Warn("settings reload failed; keeping previous settings", map[string]string{"error": err.Error()})
		return
	}
	if err := d.registry.Reload(); err != nil {
		d.logger.Warn("some folders are not being watched", map[string]string{"error": err.Error()})
	}
	d.logger.Info("settings reloaded", map[string]string{"entries": strconv.Itoa(d.registry.Len())})
}

func (d *daemon) watcherFailed(err error) {
	d.logger.Error("file watcher failed", map[string]string{"error": err.Error()})
	_ = d.sink.Emit(context.Background(), notify.Event{
		Kind:       notify.KindWatchFailed,
		Level:      "error",
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	})
}

// newCoordinator registers teardown in dependency order. Every phase
// tolerates components that never started.
func (d *daemon) newCoordinator() *shutdownCoordinator {
	coordinator := newShutdownCoordinator(d.logger)
	coordinator.Add("http", func(ctx context.Context) error {
		if d.server == nil {
			return nil
		}
		err := d.server.Shutdown(ctx)
		<-d.serveDone
		return err
	})
	coordinator.Add("settings-watch", func(context.Context) error {
		return d.settingsWatch.Close()
	})
	coordinator.Add("registry", func(ctx context.Context) error {
		if d.registry == nil {
			return nil
		}
		err := d.registry.Shutdown()
		return errors.Join(err, d.registry.Wait(ctx))
	})
	coordinator.Add("watcher", func(context.Context) error {
		if d.watcher == nil {
			return nil
		}
		return d.watcher.Close()
	})
	coordinator.Add("upload-queue", func(context.Context) error {
		return d.queue.Close()
	})
	coordinator.Add("events", func(context.Context) error {
		d.events.Close()
		return nil
	})
	coordinator.Add("lock", func(context.Context) error {
		if d.lock == nil {
			return nil
		}
		return d.lock.Unlock()
	})
	return coordinator
}

func (d *daemon) Shutdown(ctx context.Context) error {
	return d.coordinator.Run(ctx)
}
