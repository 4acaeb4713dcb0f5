package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"watchfolder/internal/metrics"
)

type kindEvent struct {
	kind string
}

func (e kindEvent) Type() string         { return e.kind }
func (e kindEvent) Timestamp() time.Time { return time.Time{} }

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return value
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe()
	bus.Publish(42)
	if got := receive(t, ch); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: &metrics.Registry{}})
	ch, _ := bus.Subscribe()

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to close after bus close")
	}
	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("expected subscribe after close to return a closed channel")
	}
}

func TestBusDropOnFull(t *testing.T) {
	registry := &metrics.Registry{}
	bus := NewBus[string](context.Background(), BusOptions{
		Name:                 "drop",
		SubscriberBufferSize: 1,
		Registry:             registry,
	})
	t.Cleanup(bus.Close)

	ch, _ := bus.Subscribe()
	bus.Publish("first")

	done := make(chan struct{})
	go func() {
		bus.Publish("second")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked on a full subscriber")
	}

	if got := receive(t, ch); got != "first" {
		t.Fatalf("expected first, got %q", got)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", bus.Dropped())
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{HistorySize: 3, Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)

	for i := 1; i <= 5; i++ {
		bus.Publish(i)
	}
	got := bus.History(0)
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected history %v", got)
	}
	got = bus.History(2)
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("unexpected tail %v", got)
	}
}

func TestBusSubscribeTypes(t *testing.T) {
	bus := NewBus[kindEvent](context.Background(), BusOptions{Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)

	ch, cancel := bus.SubscribeTypes("trigger_failed")
	defer cancel()

	bus.Publish(kindEvent{kind: "file_moved"})
	bus.Publish(kindEvent{kind: "trigger_failed"})

	if got := receive(t, ch); got.kind != "trigger_failed" {
		t.Fatalf("expected trigger_failed, got %q", got.kind)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %q", extra.kind)
	default:
	}
}

func TestBusContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{Registry: &metrics.Registry{}})
	ch, _ := bus.Subscribe()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("bus did not close on context cancel")
	}
}

func TestBusNilValueIgnored(t *testing.T) {
	bus := NewBus[*kindEvent](context.Background(), BusOptions{Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	ch, _ := bus.Subscribe()

	bus.Publish(nil)
	select {
	case <-ch:
		t.Fatal("nil value should not be delivered")
	default:
	}
}

func TestBusConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancel := bus.Subscribe()
			cancel()
		}()
		go func(value int) {
			defer wg.Done()
			bus.Publish(value)
		}(i)
	}
	wg.Wait()
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusSubscribeWithReplay(t *testing.T) {
	bus := NewBus[kindEvent](context.Background(), BusOptions{HistorySize: 8, Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)

	for _, kind := range []string{"a", "b", "a", "c", "a"} {
		bus.Publish(kindEvent{kind: kind})
	}

	replay, ch, cancel := bus.SubscribeWithReplay(TypeFilter[kindEvent]("a", "c"), 2)
	defer cancel()
	if len(replay) != 2 || replay[0].kind != "c" || replay[1].kind != "a" {
		t.Fatalf("unexpected replay %+v", replay)
	}

	bus.Publish(kindEvent{kind: "b"})
	bus.Publish(kindEvent{kind: "c"})
	if got := receive(t, ch); got.kind != "c" {
		t.Fatalf("expected live c, got %q", got.kind)
	}
}

func TestBusSubscribeWithReplayZeroCount(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{HistorySize: 4, Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	bus.Publish(1)

	replay, _, cancel := bus.SubscribeWithReplay(nil, 0)
	defer cancel()
	if len(replay) != 0 {
		t.Fatalf("expected no replay, got %v", replay)
	}
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", bus.SubscriberCount())
	}
}

func TestTypeFilterEmpty(t *testing.T) {
	if TypeFilter[kindEvent]() != nil {
		t.Fatal("expected nil filter for no types")
	}
}
