package api

import (
	"net/http"
	"strconv"
	"strings"

	"watchfolder/internal/event"
	"watchfolder/internal/notify"
)

const defaultEventReplay = 50

// handleEventStream streams diagnostics events. ?kind=a,b limits the
// stream to those kinds; ?replay=N sends the last N retained events first.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, s.authToken) {
		s.rejectWS(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.events == nil {
		s.rejectWS(w, r, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	query := r.URL.Query()
	replay := defaultEventReplay
	if raw := query.Get("replay"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.rejectWS(w, r, http.StatusBadRequest, "invalid replay")
			return
		}
		replay = parsed
	}
	var kinds []string
	for _, kind := range strings.Split(query.Get("kind"), ",") {
		if kind = strings.TrimSpace(kind); kind != "" {
			kinds = append(kinds, kind)
		}
	}
	var filter func(notify.Event) bool
	if len(kinds) > 0 {
		filter = event.TypeFilter[notify.Event](kinds...)
	}

	backlog, live, cancel := s.events.SubscribeWithReplay(filter, replay)
	defer cancel()

	conn, err := upgradeWebSocket(w, r, s.allowedOrigins)
	if err != nil {
		s.logWS(r, http.StatusBadRequest, "websocket upgrade failed", err)
		return
	}
	wsStream[notify.Event]{Conn: conn, Backlog: backlog, Live: live}.run()
}
