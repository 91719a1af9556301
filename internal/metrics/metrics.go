package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	// RateLimited counts requests rejected by the limiter
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	)

	// CodecOps counts encode/decode calls by operation and result
	CodecOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "digipin_codec_ops_total", Help: "DIGIPIN encode/decode calls by result."},
		[]string{"op", "result"},
	)

	// OptimizeRuns counts optimize calls by outcome (ok, dropped, invalid, no_solution, error)
	OptimizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_runs_total", Help: "Route optimizations by outcome."},
		[]string{"outcome"},
	)
	// OptimizeDuration is the wall time of a solver run
	OptimizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Route optimization wall time.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}},
	)
	// DroppedStops counts stops left out of a plan
	DroppedStops = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "optimize_dropped_stops_total", Help: "Stops dropped by the optimizer."},
	)

	// Jobs counts async jobs by final status
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_jobs_total", Help: "Async optimize jobs by status."},
		[]string{"status"},
	)
	// JobQueueDepth is the number of queued jobs not yet picked up
	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "optimize_job_queue_depth", Help: "Queued optimize jobs."},
	)

	// GeocodeLookups counts reverse geocode lookups by provider and cache result
	GeocodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_lookups_total", Help: "Reverse geocode lookups."},
		[]string{"provider", "cache"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the API registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration, RateLimited)
		Registry.MustRegister(CodecOps)
		Registry.MustRegister(OptimizeRuns, OptimizeDuration, DroppedStops)
		Registry.MustRegister(Jobs, JobQueueDepth)
		Registry.MustRegister(GeocodeLookups)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
