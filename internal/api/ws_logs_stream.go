package api

import (
	"net/http"

	"watchfolder/internal/logging"
)

// handleLogStream streams log entries as they are written. ?level= drops
// entries below that level.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, s.authToken) {
		s.rejectWS(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var minLevel logging.Level
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			s.rejectWS(w, r, http.StatusBadRequest, "invalid level")
			return
		}
		minLevel = level
	}

	output, cancel := s.logger.Subscribe()
	defer cancel()

	conn, err := upgradeWebSocket(w, r, s.allowedOrigins)
	if err != nil {
		s.logWS(r, http.StatusBadRequest, "websocket upgrade failed", err)
		return
	}
	wsStream[logging.LogEntry]{
		Conn: conn,
		Live: output,
		Encode: func(entry logging.LogEntry) (any, bool) {
			return entry, logging.LevelAtLeast(entry.Level, minLevel)
		},
	}.run()
}
