// Package api serves the DIGIPIN codec and route optimizer over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"digipin/internal/config"
	"digipin/internal/events"
	"digipin/internal/geocode"
	"digipin/internal/integrations"
	"digipin/internal/jobs"
	"digipin/internal/metrics"
	"digipin/internal/routing"
	"digipin/internal/store"
)

type Server struct {
	Store     store.Store
	Optimizer *routing.Optimizer
	Jobs      *jobs.Manager
	Broker    events.Broker
	Geocoder  geocode.Provider       // nil disables /api/address
	Stops     integrations.StopSource // CSV import
	Limiter   *ClientLimiter          // nil disables rate limiting
	Config    config.Config

	// SolveGrace is added to the solver time limit to bound a synchronous
	// optimize request.
	SolveGrace time.Duration
}

// Routes returns the API handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Codec
	mux.HandleFunc("GET /api/digipin", s.EncodeHandler)
	mux.HandleFunc("GET /api/latlng", s.DecodeHandler)
	mux.HandleFunc("GET /api/digipin/validate", s.ValidateHandler)
	mux.HandleFunc("GET /api/digipin/qr-content", s.QRContentHandler)
	mux.HandleFunc("GET /api/address", s.AddressHandler)

	// Optimization
	mux.HandleFunc("POST /api/optimize-route", s.OptimizeRouteHandler)
	mux.HandleFunc("POST /api/optimize-route/csv", s.OptimizeCSVHandler)
	mux.HandleFunc("POST /v1/optimize/jobs", s.SubmitJobHandler)
	mux.HandleFunc("GET /v1/optimize/jobs/{id}", s.JobHandler)
	mux.HandleFunc("GET /v1/optimize/jobs/{id}/events", s.JobEventsHandler)
	mux.HandleFunc("GET /v1/optimize/ws", s.JobWSHandler)
	mux.HandleFunc("GET /v1/optimizer/config", s.OptimizerConfigHandler)

	// Admin
	mux.HandleFunc("GET /v1/admin/service-areas", s.ListServiceAreasHandler)
	mux.HandleFunc("POST /v1/admin/service-areas", s.CreateServiceAreaHandler)
	mux.HandleFunc("GET /v1/admin/plan-metrics", s.PlanMetricsHandler)
	mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)

	// Health
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /debug/vars", s.DebugJSON)

	var h http.Handler = mux
	if s.Limiter != nil {
		h = s.Limiter.Middleware(h)
	}
	return logMiddleware(h)
}

// SeedServiceAreas inserts configured areas when the store has none.
func (s *Server) SeedServiceAreas(ctx context.Context, areas []store.ServiceAreaInput) (int, error) {
	if len(areas) == 0 {
		return 0, nil
	}
	existing, err := s.Store.ListServiceAreas(ctx)
	if err != nil || len(existing) > 0 {
		return 0, err
	}
	for _, a := range areas {
		if _, err := s.Store.CreateServiceArea(ctx, a); err != nil {
			return 0, err
		}
	}
	return len(areas), nil
}

func (s *Server) solveTimeout() time.Duration {
	grace := s.SolveGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	limit := s.Optimizer.Options().TimeLimit
	if limit <= 0 {
		limit = 30 * time.Second
	}
	return limit + grace
}
