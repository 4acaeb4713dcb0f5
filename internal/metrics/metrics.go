package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Registry struct {
	activeHandles    atomic.Int64
	triggers         atomic.Int64
	moves            atomic.Int64
	moveRetries      atomic.Int64
	triggerFailures  atomic.Int64
	uploadsSubmitted atomic.Int64
	reloads          atomic.Int64
	reloadFailures   atomic.Int64
	stages           sync.Map
	buses            sync.Map
}

type stageStats struct {
	count         atomic.Int64
	failures      atomic.Int64
	retries       atomic.Int64
	durationNanos atomic.Int64
}

type busStats struct {
	published   atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64
}

var Default = &Registry{}

// HandleOpened and HandleClosed track live OS watch handles.
func (r *Registry) HandleOpened() {
	if r == nil {
		return
	}
	r.activeHandles.Add(1)
}

func (r *Registry) HandleClosed() {
	if r == nil {
		return
	}
	r.activeHandles.Add(-1)
}

func (r *Registry) ActiveHandles() int64 {
	if r == nil {
		return 0
	}
	return r.activeHandles.Load()
}

func (r *Registry) IncTrigger() {
	if r == nil {
		return
	}
	r.triggers.Add(1)
}

func (r *Registry) IncMove() {
	if r == nil {
		return
	}
	r.moves.Add(1)
}

func (r *Registry) IncMoveRetry() {
	if r == nil {
		return
	}
	r.moveRetries.Add(1)
}

func (r *Registry) IncTriggerFailure() {
	if r == nil {
		return
	}
	r.triggerFailures.Add(1)
}

func (r *Registry) IncUploadSubmitted() {
	if r == nil {
		return
	}
	r.uploadsSubmitted.Add(1)
}

func (r *Registry) IncReload(err error) {
	if r == nil {
		return
	}
	r.reloads.Add(1)
	if err != nil {
		r.reloadFailures.Add(1)
	}
}

// Snapshot is a point-in-time copy of the scalar counters.
type Snapshot struct {
	ActiveHandles    int64 `json:"active_handles"`
	Triggers         int64 `json:"triggers"`
	Moves            int64 `json:"moves"`
	MoveRetries      int64 `json:"move_retries"`
	TriggerFailures  int64 `json:"trigger_failures"`
	UploadsSubmitted int64 `json:"uploads_submitted"`
	Reloads          int64 `json:"reloads"`
	ReloadFailures   int64 `json:"reload_failures"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		ActiveHandles:    r.activeHandles.Load(),
		Triggers:         r.triggers.Load(),
		Moves:            r.moves.Load(),
		MoveRetries:      r.moveRetries.Load(),
		TriggerFailures:  r.triggerFailures.Load(),
		UploadsSubmitted: r.uploadsSubmitted.Load(),
		Reloads:          r.reloads.Load(),
		ReloadFailures:   r.reloadFailures.Load(),
	}
}

// RecordStage records one run of a trigger stage such as "move" or "submit".
func (r *Registry) RecordStage(name string, duration time.Duration, err error, attempts int) {
	if r == nil {
		return
	}
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	stats := r.stageStats(name)
	stats.count.Add(1)
	stats.durationNanos.Add(duration.Nanoseconds())
	if err != nil {
		stats.failures.Add(1)
	}
	if attempts > 1 {
		stats.retries.Add(int64(attempts - 1))
	}
}

func (r *Registry) IncEventPublished(bus string) {
	if r == nil {
		return
	}
	r.busStats(bus).published.Add(1)
}

func (r *Registry) IncEventDropped(bus string) {
	if r == nil {
		return
	}
	r.busStats(bus).dropped.Add(1)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.busStats(bus).subscribers.Store(int64(count))
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeGauge(writer, "watchfolder_active_handles", "Live OS watch handles", r.activeHandles.Load())
	writeCounter(writer, "watchfolder_triggers_total", "File events handled", r.triggers.Load())
	writeCounter(writer, "watchfolder_moves_total", "Files moved to the screenshots folder", r.moves.Load())
	writeCounter(writer, "watchfolder_move_retries_total", "Move attempts retried after a transient error", r.moveRetries.Load())
	writeCounter(writer, "watchfolder_trigger_failures_total", "File events that failed", r.triggerFailures.Load())
	writeCounter(writer, "watchfolder_uploads_submitted_total", "Files handed to the upload queue", r.uploadsSubmitted.Load())
	writeCounter(writer, "watchfolder_reloads_total", "Registry reconciliations", r.reloads.Load())
	writeCounter(writer, "watchfolder_reload_failures_total", "Reconciliations that reported an error", r.reloadFailures.Load())

	stageNames := sortedKeys(&r.stages)
	writeHelp(writer, "watchfolder_stage_duration_seconds", "Trigger stage duration in seconds")
	fmt.Fprintln(writer, "# TYPE watchfolder_stage_duration_seconds summary")
	writeHelp(writer, "watchfolder_stage_failures_total", "Trigger stage failures")
	fmt.Fprintln(writer, "# TYPE watchfolder_stage_failures_total counter")
	writeHelp(writer, "watchfolder_stage_retries_total", "Trigger stage retries")
	fmt.Fprintln(writer, "# TYPE watchfolder_stage_retries_total counter")
	for _, name := range stageNames {
		stats := r.stageStats(name)
		label := formatLabel(name)
		durationSeconds := float64(stats.durationNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "watchfolder_stage_duration_seconds_sum{stage=%s} %.6f\n", label, durationSeconds)
		fmt.Fprintf(writer, "watchfolder_stage_duration_seconds_count{stage=%s} %d\n", label, stats.count.Load())
		fmt.Fprintf(writer, "watchfolder_stage_failures_total{stage=%s} %d\n", label, stats.failures.Load())
		fmt.Fprintf(writer, "watchfolder_stage_retries_total{stage=%s} %d\n", label, stats.retries.Load())
	}

	busNames := sortedKeys(&r.buses)
	writeHelp(writer, "watchfolder_bus_published_total", "Events published per bus")
	fmt.Fprintln(writer, "# TYPE watchfolder_bus_published_total counter")
	writeHelp(writer, "watchfolder_bus_dropped_total", "Events dropped per bus")
	fmt.Fprintln(writer, "# TYPE watchfolder_bus_dropped_total counter")
	writeHelp(writer, "watchfolder_bus_subscribers", "Subscribers per bus")
	fmt.Fprintln(writer, "# TYPE watchfolder_bus_subscribers gauge")
	for _, name := range busNames {
		stats := r.busStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "watchfolder_bus_published_total{bus=%s} %d\n", label, stats.published.Load())
		fmt.Fprintf(writer, "watchfolder_bus_dropped_total{bus=%s} %d\n", label, stats.dropped.Load())
		fmt.Fprintf(writer, "watchfolder_bus_subscribers{bus=%s} %d\n", label, stats.subscribers.Load())
	}

	return nil
}

func (r *Registry) stageStats(name string) *stageStats {
	value, _ := r.stages.LoadOrStore(name, &stageStats{})
	return value.(*stageStats)
}

func (r *Registry) busStats(name string) *busStats {
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func sortedKeys(values *sync.Map) []string {
	var names []string
	values.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
