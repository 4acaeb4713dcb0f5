package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"watchfolder/internal/logging"
)

func TestLoggingMiddlewareAddsRoute(t *testing.T) {
	buffer := logging.NewLogBuffer(10)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelDebug, io.Discard).Category("api")

	handler := loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	entries := buffer.List()
	if len(entries) == 0 {
		t.Fatalf("expected log entries")
	}
	entry := entries[0]
	if entry.Context[logging.CategoryKey] != "api" {
		t.Fatalf("expected category api, got %q", entry.Context[logging.CategoryKey])
	}
	if entry.Context["http.route"] != "/api/status" {
		t.Fatalf("expected http.route /api/status, got %q", entry.Context["http.route"])
	}
}

func TestValidateToken(t *testing.T) {
	cases := []struct {
		name   string
		target string
		header string
		token  string
		want   bool
	}{
		{name: "no token configured", target: "/api/status", want: true},
		{name: "bearer match", target: "/api/status", header: "Bearer secret", token: "secret", want: true},
		{name: "bearer mismatch", target: "/api/status", header: "Bearer nope", token: "secret", want: false},
		{name: "query match", target: "/ws/events?token=secret", token: "secret", want: true},
		{name: "missing", target: "/api/status", token: "secret", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if got := validateToken(req, tc.token); got != tc.want {
				t.Fatalf("validateToken = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:7821/ws/events", nil)
	if !isOriginAllowed(req, nil) {
		t.Fatalf("expected request without origin to be allowed")
	}

	req.Header.Set("Origin", "http://127.0.0.1:3000")
	if !isOriginAllowed(req, nil) {
		t.Fatalf("expected same-host origin to be allowed")
	}

	req.Header.Set("Origin", "http://evil.example")
	if isOriginAllowed(req, nil) {
		t.Fatalf("expected foreign origin to be rejected")
	}
	if !isOriginAllowed(req, []string{"evil.example"}) {
		t.Fatalf("expected allow-listed origin to be accepted")
	}
}
