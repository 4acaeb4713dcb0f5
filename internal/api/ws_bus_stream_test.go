package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"watchfolder/internal/event"
	"watchfolder/internal/metrics"
	"watchfolder/internal/notify"
)

func dialEvents(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, bus *event.Bus[notify.Event], count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() < count {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", count, bus.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventStreamDeliversFilteredKinds(t *testing.T) {
	bus := event.NewBus[notify.Event](context.Background(), event.BusOptions{Name: "diagnostics", Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	server := httptest.NewServer(NewServer(Config{Events: bus, Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	conn := dialEvents(t, server, "?kind="+notify.KindTriggerFailed)
	waitForSubscribers(t, bus, 1)

	bus.Publish(notify.Event{Kind: notify.KindFileSubmitted, Message: "skip"})
	bus.Publish(notify.Event{Kind: notify.KindTriggerFailed, Message: "move failed"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got notify.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != notify.KindTriggerFailed || got.Message != "move failed" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestEventStreamRequiresToken(t *testing.T) {
	bus := event.NewBus[notify.Event](context.Background(), event.BusOptions{Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	server := httptest.NewServer(NewServer(Config{Events: bus, AuthToken: "secret", Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}

	conn := dialEvents(t, server, "?token=secret")
	waitForSubscribers(t, bus, 1)
	_ = conn.Close()
}

func TestEventStreamClosesWithBus(t *testing.T) {
	bus := event.NewBus[notify.Event](context.Background(), event.BusOptions{Registry: &metrics.Registry{}})
	server := httptest.NewServer(NewServer(Config{Events: bus, Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	conn := dialEvents(t, server, "")
	waitForSubscribers(t, bus, 1)
	bus.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestEventStreamReplaysHistory(t *testing.T) {
	bus := event.NewBus[notify.Event](context.Background(), event.BusOptions{Name: "diagnostics", HistorySize: 8, Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	server := httptest.NewServer(NewServer(Config{Events: bus, Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	bus.Publish(notify.Event{Kind: notify.KindFileSubmitted, Message: "old"})
	bus.Publish(notify.Event{Kind: notify.KindTriggerFailed, Message: "older failure"})
	bus.Publish(notify.Event{Kind: notify.KindTriggerFailed, Message: "recent failure"})

	conn := dialEvents(t, server, "?kind="+notify.KindTriggerFailed+"&replay=1")
	waitForSubscribers(t, bus, 1)
	bus.Publish(notify.Event{Kind: notify.KindTriggerFailed, Message: "live failure"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"recent failure", "live failure"} {
		var got notify.Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read %q: %v", want, err)
		}
		if got.Message != want {
			t.Fatalf("expected %q, got %+v", want, got)
		}
	}
}

func TestEventStreamReplayDisabled(t *testing.T) {
	bus := event.NewBus[notify.Event](context.Background(), event.BusOptions{HistorySize: 8, Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	server := httptest.NewServer(NewServer(Config{Events: bus, Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	bus.Publish(notify.Event{Kind: notify.KindFileSubmitted, Message: "old"})

	conn := dialEvents(t, server, "?replay=0")
	waitForSubscribers(t, bus, 1)
	bus.Publish(notify.Event{Kind: notify.KindFileSubmitted, Message: "new"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got notify.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Message != "new" {
		t.Fatalf("expected only live events, got %+v", got)
	}
}

func TestEventStreamRejectsBadReplay(t *testing.T) {
	bus := event.NewBus[notify.Event](context.Background(), event.BusOptions{Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	server := httptest.NewServer(NewServer(Config{Events: bus, Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events?replay=-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}
