// Package http serves the dashboard page, its JSON and iCalendar feeds, and
// the health and metrics endpoints.
package http

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/library-events-service/internal/domain"
)

//go:embed static/index.html
var indexHTML []byte

// loadEventsError is the client-facing message for a failed dashboard build.
const loadEventsError = "Failed to load events"

// DashboardSource builds the dashboard payload.
type DashboardSource interface {
	Build(ctx context.Context) (domain.Dashboard, error)
}

// Server exposes the dashboard, health, readiness, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	dashboards DashboardSource
	logger     *slog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// NewServer creates an HTTP server with the dashboard routes plus /healthz,
// /readyz, and /metrics.
func NewServer(addr string, dashboards DashboardSource, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// A cold build geocodes every library, one request per second.
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		dashboards: dashboards,
		logger:     logger,
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/events.ics", s.handleICS)
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

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

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	dash, err := s.build(r.Context())
	if err != nil {
		s.writeBuildError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, dash)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	dash, err := s.build(r.Context())
	if err != nil {
		s.writeBuildError(w, err)
		return
	}
	body, err := buildICS(dash.CalendarEvents, domain.Now())
	if err != nil {
		s.writeBuildError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="library-events.ics"`)
	_, _ = w.Write([]byte(body))
}

// build runs the dashboard source, turning a panic into an error so the
// client always gets the structured failure body.
func (s *Server) build(ctx context.Context) (dash domain.Dashboard, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic building dashboard: %v", p)
		}
	}()
	return s.dashboards.Build(ctx)
}

func (s *Server) writeBuildError(w http.ResponseWriter, err error) {
	s.logger.Error("dashboard build failed", "error", err)
	sharedobs.WriteJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   loadEventsError,
		Details: err.Error(),
	})
}
