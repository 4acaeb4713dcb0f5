package api

import (
	"context"
	"net/http"

	"watchfolder/internal/event"
	"watchfolder/internal/logging"
	"watchfolder/internal/metrics"
	"watchfolder/internal/notify"
	"watchfolder/internal/upload"
	"watchfolder/internal/watchfolder"
)

// WatchLister is the part of the registry the API reads.
type WatchLister interface {
	Entries() []watchfolder.EntryInfo
}

// UploadLister is the part of the upload queue the API reads.
type UploadLister interface {
	List(ctx context.Context, limit int, statuses ...upload.Status) ([]upload.Item, error)
	Stats(ctx context.Context) (map[upload.Status]int, error)
}

type Config struct {
	Watches        WatchLister
	Uploads        UploadLister
	Events         *event.Bus[notify.Event]
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
}

type Server struct {
	watches        WatchLister
	uploads        UploadLister
	events         *event.Bus[notify.Event]
	logger         *logging.Logger
	metrics        *metrics.Registry
	authToken      string
	allowedOrigins []string
}

func NewServer(config Config) *Server {
	server := &Server{
		watches:        config.Watches,
		uploads:        config.Uploads,
		events:         config.Events,
		logger:         logging.OrDiscard(config.Logger).Category("api"),
		metrics:        config.Metrics,
		authToken:      config.AuthToken,
		allowedOrigins: config.AllowedOrigins,
	}
	if server.metrics == nil {
		server.metrics = metrics.Default
	}
	return server
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(s.logger, handler)
	}
	mux.Handle("/metrics", wrap(restHandler(s.authToken, s.handleMetrics)))
	mux.Handle("/api/status", wrap(restHandler(s.authToken, s.handleStatus)))
	mux.Handle("/api/watches", wrap(restHandler(s.authToken, s.handleWatches)))
	mux.Handle("/api/uploads", wrap(restHandler(s.authToken, s.handleUploads)))
	mux.Handle("/api/logs", wrap(restHandler(s.authToken, s.handleLogs)))
	mux.Handle("/ws/events", wrap(http.HandlerFunc(s.handleEventStream)))
	mux.Handle("/ws/logs", wrap(http.HandlerFunc(s.handleLogStream)))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}
