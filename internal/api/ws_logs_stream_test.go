package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"watchfolder/internal/logging"
	"watchfolder/internal/metrics"
)

func TestLogStreamFiltersByLevel(t *testing.T) {
	logger := logging.NewLoggerWithOutput(nil, logging.LevelDebug, io.Discard)
	server := httptest.NewServer(NewServer(Config{Logger: logger, Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/logs?level=error"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	logger.Info("noise", nil)
	logger.Error("move failed", map[string]string{"path": "/in/a.png"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var entry logging.LogEntry
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read: %v", err)
	}
	if entry.Level != logging.LevelError || entry.Message != "move failed" || entry.Context["path"] != "/in/a.png" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestLogStreamRejectsBadLevel(t *testing.T) {
	server := httptest.NewServer(NewServer(Config{Metrics: &metrics.Registry{}}).Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/logs?level=loud"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}
