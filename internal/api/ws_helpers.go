package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsBufferSize   = 1024
	wsWriteTimeout = 10 * time.Second
)

// wsStream describes one websocket feed. Backlog is written before anything
// read from Live.
type wsStream[T any] struct {
	Conn    *websocket.Conn
	Backlog []T
	Live    <-chan T
	Encode  func(T) (any, bool)
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

// rejectWS answers a stream request that failed before the upgrade.
func (s *Server) rejectWS(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.logWS(r, status, message, nil)
	http.Error(w, message, status)
}

func (s *Server) logWS(r *http.Request, status int, message string, err error) {
	if s.logger == nil {
		return
	}
	fields := map[string]string{
		"path":   r.URL.Path,
		"status": strconv.Itoa(status),
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(message, fields)
		return
	}
	s.logger.Warn(message, fields)
}

// run writes the backlog and then the live feed until the feed closes,
// a write fails or the client disconnects.
func (stream wsStream[T]) run() {
	conn := stream.Conn
	defer conn.Close()

	encode := stream.Encode
	if encode == nil {
		encode = func(value T) (any, bool) { return value, true }
	}
	send := func(value T) bool {
		payload, ok := encode(value)
		if !ok {
			return true
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return false
		}
		return conn.WriteJSON(payload) == nil
	}

	// Client frames are discarded; the read loop only notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, value := range stream.Backlog {
		if !send(value) {
			return
		}
	}
	for {
		select {
		case <-gone:
			return
		case value, ok := <-stream.Live:
			if !ok {
				closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed")
				_ = conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(wsWriteTimeout))
				return
			}
			if !send(value) {
				return
			}
		}
	}
}
