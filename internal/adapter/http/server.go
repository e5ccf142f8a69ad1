// Package http serves the forecast API: health, readiness and metrics
// endpoints plus per-city refresh, status, forecast, statistics and history.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Runner submits cycles and reports their latest status.
type Runner interface {
	Submit(city string) (pipeline.Status, error)
	SubmitAndWait(ctx context.Context, city string) (pipeline.Status, error)
	Status(city string) (pipeline.Status, bool)
	Statuses() []pipeline.Status
}

// Cities resolves configured cities.
type Cities interface {
	City(name string) (config.City, bool)
	CityNames() []string
}

// CleanedReader loads a city's cleaned table with internal column names.
type CleanedReader interface {
	ReadCleaned(city string) (*domain.Table, error)
}

// HistoryLister lists recorded runs for a city, newest first.
type HistoryLister interface {
	List(ctx context.Context, city string, limit int) ([]pipeline.Status, error)
}

// Deps are the collaborators the API is served from. History may be nil.
type Deps struct {
	Ready   sharedobs.ReadinessChecker
	Runner  Runner
	Cities  Cities
	Store   CleanedReader
	History HistoryLister
}

// Server exposes the forecast API over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger

	// WaitTimeout bounds how long ?wait=true holds a refresh request open.
	WaitTimeout time.Duration
}

// NewServer creates an HTTP server with the health, metrics and /v1 routes.
func NewServer(addr string, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		deps:        deps,
		logger:      logger,
		WaitTimeout: 2 * time.Minute,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Synchronous refreshes hold the response open for a whole cycle.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(s.deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cities", s.handleCities)
		r.Get("/compare", s.handleCompare)
		r.Route("/cities/{city}", func(r chi.Router) {
			r.Post("/refresh", s.handleRefresh)
			r.Get("/status", s.handleStatus)
			r.Get("/forecast", s.handleForecast)
			r.Get("/stats", s.handleStats)
			r.Get("/runs", s.handleRuns)
		})
	})
	return r
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
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

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
