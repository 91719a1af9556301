package api

import (
	"net/http"
	"time"

	"digipin/internal/buildinfo"
)

// DebugJSON reports build info and the non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                 c.Port,
			"RATE_RPS":             c.RateRPS,
			"RATE_BURST":           c.RateBurst,
			"JOB_WORKERS":          c.JobWorkers,
			"JOB_QUEUE_SIZE":       c.JobQueueSize,
			"WEBHOOK_MAX_ATTEMPTS": c.WebhookMaxAttempts,
			"GEOCODE_CACHE_TTL":    c.GeocodeCacheTTL.String(),
			"SOLVER_TIME_LIMIT":    s.Optimizer.Options().TimeLimit.String(),
			"HAS_DATABASE_URL":     c.DatabaseURL != "",
			"HAS_REDIS_URL":        c.RedisURL != "",
			"HAS_RABBITMQ_URL":     c.RabbitMQURL != "",
			"HAS_GOOGLE_MAPS_KEY":  c.GoogleMapsAPIKey != "",
		},
	})
}
