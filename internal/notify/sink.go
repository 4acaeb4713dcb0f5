// Package notify carries diagnostics out of the trigger pipeline. Sinks must
// not block for long: they are called from folder dispatch goroutines.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"watchfolder/internal/event"
	"watchfolder/internal/logging"
)

const (
	KindWatchEnabled  = "watch_enabled"
	KindWatchDisabled = "watch_disabled"
	KindFileMoved     = "file_moved"
	KindFileSubmitted = "file_submitted"
	KindTriggerFailed = "trigger_failed"
	KindWatchFailed   = "watch_failed"
	KindReloaded      = "reloaded"
)

type Event struct {
	Kind       string            `json:"kind"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func (e Event) Type() string         { return e.Kind }
func (e Event) Timestamp() time.Time { return e.OccurredAt }

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type MemorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (sink *MemorySink) Emit(_ context.Context, event Event) error {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.events = append(sink.events, event)
	return sink.err
}

func (sink *MemorySink) Events() []Event {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	events := make([]Event, len(sink.events))
	copy(events, sink.events)
	return events
}

// EventsOfKind filters Events by Kind.
func (sink *MemorySink) EventsOfKind(kind string) []Event {
	var matched []Event
	for _, event := range sink.Events() {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func (sink *MemorySink) SetError(err error) {
	if sink == nil {
		return
	}
	sink.mu.Lock()
	sink.err = err
	sink.mu.Unlock()
}

// LogSink writes events to a logger at the event's level.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrDiscard(logger)}
}

func (sink *LogSink) Emit(_ context.Context, event Event) error {
	if sink == nil {
		return nil
	}
	fields := make(map[string]string, len(event.Fields)+1)
	for key, value := range event.Fields {
		fields[key] = value
	}
	fields["kind"] = event.Kind
	level, _ := logging.ParseLevel(event.Level)
	switch level {
	case logging.LevelDebug:
		sink.logger.Debug(event.Message, fields)
	case logging.LevelWarning:
		sink.logger.Warn(event.Message, fields)
	case logging.LevelError:
		sink.logger.Error(event.Message, fields)
	default:
		sink.logger.Info(event.Message, fields)
	}
	return nil
}

// BusSink publishes events for live subscribers such as websocket clients.
type BusSink struct {
	bus *event.Bus[Event]
}

func NewBusSink(bus *event.Bus[Event]) *BusSink {
	return &BusSink{bus: bus}
}

func (sink *BusSink) Emit(_ context.Context, event Event) error {
	if sink == nil {
		return nil
	}
	sink.bus.Publish(event)
	return nil
}

// Fanout emits to every sink and joins their errors.
type Fanout []Sink

func (fanout Fanout) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range fanout {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
