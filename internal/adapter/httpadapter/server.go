package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/observability"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the telemetry components the API exposes.
type Services struct {
	Registry *telemetry.Registry
	Engine   *telemetry.Engine
	Detector *telemetry.Detector
	Reporter *telemetry.Reporter
}

// Options tunes request handling.
type Options struct {
	// RequestTimeout bounds each API request. Zero disables the limit.
	RequestTimeout time.Duration
	// FaultStaleAfter is used by the faulty scan when period_duration is omitted.
	FaultStaleAfter time.Duration
}

// Server exposes the telemetry API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	services   Services
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewServer creates an HTTP server with the /api/v1 routes and the
// /healthz, /readyz, and /metrics operational routes.
func NewServer(addr string, services Services, ready sharedobs.ReadinessChecker, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Server {
	mux := http.NewServeMux()

	s := &Server{
		services: services,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withRequestID(s.withAccessLog(mux)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.withTimeout(h))
	}
	api("POST /api/v1/sensors", s.handleRegisterSensor)
	api("GET /api/v1/sensors", s.handleListSensors)
	api("GET /api/v1/sensors/{id}", s.handleSensorDetails)
	api("DELETE /api/v1/sensors/{id}", s.handleRemoveSensor)
	api("GET /api/v1/sensors/{id}/readings", s.handleSensorReadings)
	api("POST /api/v1/readings", s.handleIngestReading)
	api("DELETE /api/v1/readings", s.handleResetReadings)
	api("GET /api/v1/aggregate/sensor", s.handleAggregateSensor)
	api("GET /api/v1/aggregate/face", s.handleAggregateFace)
	api("GET /api/v1/anomalies/faulty", s.handleFaulty)
	api("GET /api/v1/anomalies/deviated", s.handleDeviated)
	api("GET /api/v1/reports/last-week", s.handleLastWeekReport)
	api("GET /api/v1/reports/hourly", s.handleHourlyReport)

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
