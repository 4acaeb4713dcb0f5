package api

import (
	"net/http"
	"strconv"
	"strings"

	"watchfolder/internal/logging"
	"watchfolder/internal/metrics"
	"watchfolder/internal/upload"
	"watchfolder/internal/watchfolder"
)

const defaultListLimit = 100

type statusResponse struct {
	Watches       int                   `json:"watches"`
	ActiveWatches int                   `json:"active_watches"`
	Uploads       map[upload.Status]int `json:"uploads,omitempty"`
	Metrics       metrics.Snapshot      `json:"metrics"`
	Events        *eventStatus          `json:"events,omitempty"`
}

type eventStatus struct {
	Subscribers int   `json:"subscribers"`
	Dropped     int64 `json:"dropped"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := s.metrics.WritePrometheus(w); err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to write metrics"}
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	response := statusResponse{Metrics: s.metrics.Snapshot()}
	for _, entry := range s.entries() {
		response.Watches++
		if entry.Active {
			response.ActiveWatches++
		}
	}
	if s.uploads != nil {
		stats, err := s.uploads.Stats(r.Context())
		if err != nil {
			return &apiError{Status: http.StatusInternalServerError, Message: "failed to read upload queue"}
		}
		response.Uploads = stats
	}
	if s.events != nil {
		response.Events = &eventStatus{Subscribers: s.events.SubscriberCount(), Dropped: s.events.Dropped()}
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (s *Server) handleWatches(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	writeJSON(w, http.StatusOK, s.entries())
	return nil
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if s.uploads == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "upload queue unavailable"}
	}
	limit, apiErr := parseLimit(r)
	if apiErr != nil {
		return apiErr
	}
	var statuses []upload.Status
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			statuses = append(statuses, upload.Status(raw))
		}
	}
	items, err := s.uploads.List(r.Context(), limit, statuses...)
	if err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to list uploads"}
	}
	if items == nil {
		items = []upload.Item{}
	}
	writeJSON(w, http.StatusOK, items)
	return nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	limit, apiErr := parseLimit(r)
	if apiErr != nil {
		return apiErr
	}
	var minLevel logging.Level
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid level"}
		}
		minLevel = level
	}
	entries := filterLogs(s.logger.Buffer().List(), minLevel, limit)
	writeJSON(w, http.StatusOK, entries)
	return nil
}

func (s *Server) entries() []watchfolder.EntryInfo {
	if s.watches == nil {
		return []watchfolder.EntryInfo{}
	}
	return s.watches.Entries()
}

func parseLimit(r *http.Request) (int, *apiError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
	}
	return limit, nil
}

// filterLogs keeps entries at or above minLevel, newest limit entries.
func filterLogs(entries []logging.LogEntry, minLevel logging.Level, limit int) []logging.LogEntry {
	filtered := make([]logging.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if logging.LevelAtLeast(entry.Level, minLevel) {
			filtered = append(filtered, entry)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}
