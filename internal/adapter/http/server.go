package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the tracker API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// the /api/v1 routes backed by the given tracker.
func NewServer(addr string, tracker Tracker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(tracker))
	mux.Handle("GET /metrics", promhttp.Handler())

	api := &apiHandler{tracker: tracker, logger: logger}
	mux.HandleFunc("GET /api/v1/view", api.handleView)
	mux.HandleFunc("GET /api/v1/regions", api.handleRegions)
	mux.HandleFunc("GET /api/v1/table", api.handleTable)
	mux.HandleFunc("GET /api/v1/map", api.handleMap)
	mux.HandleFunc("GET /api/v1/chart", api.handleChart)
	mux.HandleFunc("PUT /api/v1/selection/region", api.handleSelectRegion)
	mux.HandleFunc("PUT /api/v1/selection/metric", api.handleSelectMetric)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
