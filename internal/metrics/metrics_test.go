package metrics

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWritePrometheusIncludesCounters(t *testing.T) {
	registry := &Registry{}
	registry.HandleOpened()
	registry.HandleOpened()
	registry.HandleClosed()
	registry.IncTrigger()
	registry.IncMoveRetry()
	registry.IncReload(errors.New("boom"))
	registry.RecordStage("move", 1500*time.Millisecond, nil, 3)
	registry.IncEventPublished("diagnostics")
	registry.IncEventDropped("diagnostics")

	var buf bytes.Buffer
	if err := registry.WritePrometheus(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	output := buf.String()
	for _, want := range []string{
		"watchfolder_active_handles 1",
		"watchfolder_triggers_total 1",
		"watchfolder_move_retries_total 1",
		"watchfolder_reload_failures_total 1",
		"watchfolder_stage_duration_seconds_sum{stage=\"move\"} 1.500000",
		"watchfolder_stage_retries_total{stage=\"move\"} 2",
		"watchfolder_bus_dropped_total{bus=\"diagnostics\"} 1",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.HandleOpened()
	registry.IncTrigger()
	registry.RecordStage("move", time.Second, nil, 1)
	if registry.ActiveHandles() != 0 {
		t.Fatalf("expected zero handles")
	}
	if got := registry.Snapshot(); got != (Snapshot{}) {
		t.Fatalf("expected empty snapshot, got %+v", got)
	}
}
