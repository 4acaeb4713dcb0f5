package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"watchfolder/internal/event"
	"watchfolder/internal/logging"
	"watchfolder/internal/metrics"
	"watchfolder/internal/notify"
	"watchfolder/internal/upload"
	"watchfolder/internal/watchfolder"
)

type stubWatches []watchfolder.EntryInfo

func (s stubWatches) Entries() []watchfolder.EntryInfo { return s }

type stubUploads struct {
	items    []upload.Item
	statuses []upload.Status
	limit    int
	err      error
}

func (s *stubUploads) List(_ context.Context, limit int, statuses ...upload.Status) ([]upload.Item, error) {
	s.limit = limit
	s.statuses = statuses
	return s.items, s.err
}

func (s *stubUploads) Stats(context.Context) (map[upload.Status]int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[upload.Status]int{upload.StatusPending: len(s.items)}, nil
}

func newTestServer(t *testing.T, config Config) http.Handler {
	t.Helper()
	if config.Metrics == nil {
		config.Metrics = &metrics.Registry{}
	}
	return NewServer(config).Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWatchesEndpoint(t *testing.T) {
	handler := newTestServer(t, Config{Watches: stubWatches{
		{ID: "a", Path: "/watch/a", Task: "default", Active: true},
		{ID: "b", Path: "/watch/b", Task: "region"},
	}})

	rec := doRequest(t, handler, http.MethodGet, "/api/watches", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []watchfolder.EntryInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || !got[0].Active || got[1].Active {
		t.Fatalf("unexpected entries %+v", got)
	}
	if rec.Header().Get("Cache-Control") != cacheControlNoStore {
		t.Fatalf("expected no-store cache header")
	}
}

func TestWatchesRejectsPost(t *testing.T) {
	handler := newTestServer(t, Config{})
	rec := doRequest(t, handler, http.MethodPost, "/api/watches", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != "GET" {
		t.Fatalf("expected Allow header")
	}
}

func TestAuthToken(t *testing.T) {
	handler := newTestServer(t, Config{AuthToken: "secret"})

	rec := doRequest(t, handler, http.MethodGet, "/api/watches", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Code != "unauthorized" {
		t.Fatalf("unexpected error body %q (%v)", rec.Body.String(), err)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/watches", http.Header{"Authorization": {"Bearer secret"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/watches?token=secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/watches", http.Header{"Authorization": {"Bearer wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestUploadsEndpoint(t *testing.T) {
	uploads := &stubUploads{items: []upload.Item{{ID: 1, Path: "/dest/a.png", Status: upload.StatusPending}}}
	handler := newTestServer(t, Config{Uploads: uploads})

	rec := doRequest(t, handler, http.MethodGet, "/api/uploads?limit=5&status=pending,failed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if uploads.limit != 5 || len(uploads.statuses) != 2 || uploads.statuses[1] != upload.StatusFailed {
		t.Fatalf("unexpected query limit=%d statuses=%v", uploads.limit, uploads.statuses)
	}
	if !strings.Contains(rec.Body.String(), "/dest/a.png") {
		t.Fatalf("expected item in body: %s", rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/uploads?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}

	uploads.err = errors.New("disk I/O error")
	rec = doRequest(t, handler, http.MethodGet, "/api/uploads", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestUploadsUnavailable(t *testing.T) {
	handler := newTestServer(t, Config{})
	rec := doRequest(t, handler, http.MethodGet, "/api/uploads", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	registry := &metrics.Registry{}
	registry.IncTrigger()
	handler := newTestServer(t, Config{
		Watches: stubWatches{{ID: "a", Active: true}, {ID: "b"}},
		Uploads: &stubUploads{items: []upload.Item{{ID: 1}, {ID: 2}}},
		Metrics: registry,
	})

	rec := doRequest(t, handler, http.MethodGet, "/api/status", nil)
	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Watches != 2 || got.ActiveWatches != 1 || got.Uploads[upload.StatusPending] != 2 || got.Metrics.Triggers != 1 {
		t.Fatalf("unexpected status %+v", got)
	}
	if got.Events != nil {
		t.Fatalf("expected no event stats without a bus, got %+v", got.Events)
	}
}

func TestStatusEndpointReportsEventBus(t *testing.T) {
	bus := event.NewBus[notify.Event](context.Background(), event.BusOptions{SubscriberBufferSize: 1, Registry: &metrics.Registry{}})
	t.Cleanup(bus.Close)
	_, cancel := bus.Subscribe()
	defer cancel()
	bus.Publish(notify.Event{Kind: notify.KindFileSubmitted})
	bus.Publish(notify.Event{Kind: notify.KindFileSubmitted})

	handler := newTestServer(t, Config{Events: bus, Metrics: &metrics.Registry{}})
	rec := doRequest(t, handler, http.MethodGet, "/api/status", nil)
	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Events == nil || got.Events.Subscribers != 1 || got.Events.Dropped != 1 {
		t.Fatalf("unexpected event stats %+v", got.Events)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := &metrics.Registry{}
	registry.HandleOpened()
	handler := newTestServer(t, Config{Metrics: registry})

	rec := doRequest(t, handler, http.MethodGet, "/metrics", nil)
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "watchfolder_active_handles 1") {
		t.Fatalf("unexpected metrics output:\n%s", body)
	}
}

func TestLogsEndpointFiltersByLevel(t *testing.T) {
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(10), logging.LevelDebug, io.Discard)
	logger.Debug("noise", nil)
	logger.Warn("careful", nil)
	logger.Error("broken", nil)
	handler := newTestServer(t, Config{Logger: logger})

	rec := doRequest(t, handler, http.MethodGet, "/api/logs?level=warning&limit=1", nil)
	var got []logging.LogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Message != "broken" {
		t.Fatalf("unexpected logs %+v", got)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/logs?level=loud", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
