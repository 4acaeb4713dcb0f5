package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"watchfolder/internal/config"
	"watchfolder/internal/logging"
	"watchfolder/internal/metrics"
)

const defaultBufferSize = 256

var ErrClosed = errors.New("upload queue closed")

type Options struct {
	Logger     *logging.Logger
	Metrics    *metrics.Registry
	BufferSize int
}

// Queue accepts finished files from the watch pipeline. Submit never
// blocks the caller; a single writer goroutine persists submissions in
// arrival order while the buffer has room.
type Queue struct {
	store   *store
	logger  *logging.Logger
	metrics *metrics.Registry

	mu       sync.RWMutex
	closed   bool
	pending  chan Item
	overflow sync.WaitGroup
	done     chan struct{}
}

// Open creates or opens the queue database under dataDir.
func Open(ctx context.Context, dataDir string, opts Options) (*Queue, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStore(ctx, dataDir)
	if err != nil {
		return nil, err
	}
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	queue := &Queue{
		store:   s,
		logger:  logging.OrDiscard(opts.Logger).Category("upload"),
		metrics: opts.Metrics,
		pending: make(chan Item, size),
		done:    make(chan struct{}),
	}
	go queue.writeLoop()
	return queue, nil
}

func (q *Queue) Path() string {
	if q == nil || q.store == nil {
		return ""
	}
	return q.store.path
}

// Submit records path for upload under task. It returns immediately.
func (q *Queue) Submit(path string, task *config.Task) {
	if q == nil {
		return
	}
	item := Item{
		Path:      path,
		TaskName:  task.DisplayName(),
		CreatedAt: time.Now().UTC(),
	}
	if task != nil {
		item.Destination = task.Destination
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("upload dropped after close", map[string]string{"path": path})
		return
	}
	select {
	case q.pending <- item:
	default:
		q.overflow.Add(1)
		go func() {
			defer q.overflow.Done()
			q.pending <- item
		}()
	}
}

func (q *Queue) writeLoop() {
	defer close(q.done)
	for item := range q.pending {
		id, err := q.store.insert(context.Background(), item)
		if err != nil {
			q.logger.Error("upload enqueue failed", map[string]string{
				"path":  item.Path,
				"error": err.Error(),
			})
			continue
		}
		if q.metrics != nil {
			q.metrics.IncUploadSubmitted()
		}
		q.logger.Debug("upload enqueued", map[string]string{
			"path": item.Path,
			"task": item.TaskName,
			"id":   formatID(id),
		})
	}
}

// Close stops accepting submissions, persists everything already
// submitted and closes the database. Calling Close twice is safe.
func (q *Queue) Close() error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.overflow.Wait()
	close(q.pending)
	<-q.done
	return q.store.close()
}
