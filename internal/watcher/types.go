package watcher

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"watchfolder/internal/logging"
)

// Event reports a file that appeared in a watched directory.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases a registration. Close is idempotent.
type Handle interface {
	Close() error
}

// WatchOptions narrows a registration.
type WatchOptions struct {
	// Filters are glob patterns matched case-insensitively against the base
	// name. Empty matches everything.
	Filters   []string
	Recursive bool
}

// Watch registers a callback for file creations under a directory.
type Watch interface {
	Watch(path string, options WatchOptions, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger *logging.Logger
	// Settle delays delivery until no write has been seen for this long.
	// Negative disables settling.
	Settle       time.Duration
	MaxWatches   int
	ErrorHandler func(error)
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int
	Registrations   int
	EventsDelivered uint64
	EventsFiltered  uint64
	Errors          uint64
	RestartAttempts int
}

type registration struct {
	id        uint64
	root      string
	filters   []string
	recursive bool
	callback  func(Event)
	dirs      []string
}

// Watcher is the fsnotify-backed implementation of Watch.
type Watcher struct {
	watcher *fsnotify.Watcher

	// structMu serialises changes to the set of fsnotify watches.
	structMu sync.Mutex

	mutex         sync.Mutex
	registrations map[uint64]*registration
	dirRefs       map[string]int
	settler       *settler
	recent        map[string]time.Time
	events        chan fsnotify.Event
	errors        chan error
	done          chan struct{}
	closed        bool
	nextID        uint64
	maxWatches    int
	logger        *logging.Logger
	errorHandler  func(error)

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int
	restartPolicy   backoff.BackOff

	eventsDelivered uint64
	eventsFiltered  uint64
	errorCount      uint64
}
