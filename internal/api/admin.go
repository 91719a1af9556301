package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"digipin/internal/store"
)

func (s *Server) ListServiceAreasHandler(w http.ResponseWriter, r *http.Request) {
	areas, err := s.Store.ListServiceAreas(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": areas})
}

func (s *Server) CreateServiceAreaHandler(w http.ResponseWriter, r *http.Request) {
	var in store.ServiceAreaInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if _, err := in.Validate(); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid service area", err.Error(), r.URL.Path)
		return
	}
	area, err := s.Store.CreateServiceArea(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, area)
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics?planDate=&algo=
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	planDate := r.URL.Query().Get("planDate")
	if planDate == "" {
		writeFieldProblem(w, http.StatusBadRequest, "Missing parameter", "planDate is required", r.URL.Path, "planDate")
		return
	}
	items, err := s.Store.ListPlanMetrics(r.Context(), planDate, r.URL.Query().Get("algo"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries?status=&limit=
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", store.DeliveryPending, store.DeliveryRetry, store.DeliveryDelivered, store.DeliveryFailed:
	default:
		writeFieldProblem(w, http.StatusBadRequest, "Invalid parameter", "unknown status "+status, r.URL.Path, "status")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeFieldProblem(w, http.StatusBadRequest, "Invalid parameter", "limit must be 1-500", r.URL.Path, "limit")
			return
		}
		limit = n
	}
	items, err := s.Store.ListWebhookDeliveries(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports whether the store and event broker are reachable.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := map[string]string{"store": "ok"}
	ready := true
	if err := s.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	}
	if p, ok := s.Broker.(pinger); ok {
		checks["broker"] = "ok"
		if err := p.Ping(ctx); err != nil {
			checks["broker"] = err.Error()
			ready = false
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}
