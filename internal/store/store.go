package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is the persistence interface used by the API server and job workers.
type Store interface {
	// Service areas
	CreateServiceArea(ctx context.Context, in ServiceAreaInput) (ServiceArea, error)
	ListServiceAreas(ctx context.Context) ([]ServiceArea, error)
	ContainsPoint(ctx context.Context, lat, lng float64) (bool, error)

	// Optimization jobs
	CreateJob(ctx context.Context, job Job) (Job, error)
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)

	// Plan metrics
	SavePlanMetrics(ctx context.Context, m PlanMetrics) error
	ListPlanMetrics(ctx context.Context, planDate, algo string) ([]PlanMetrics, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// ServiceAreaInput is a named polygon ring of [lng, lat] pairs (GeoJSON order).
type ServiceAreaInput struct {
	Name    string       `json:"name" yaml:"name"`
	Polygon [][2]float64 `json:"polygon" yaml:"polygon"`
}

type ServiceArea struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Polygon   [][2]float64 `json:"polygon"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Validate checks the ring and returns it closed.
func (in ServiceAreaInput) Validate() ([][2]float64, error) {
	if in.Name == "" {
		return nil, errors.New("name is required")
	}
	ring := append([][2]float64(nil), in.Polygon...)
	if len(ring) > 1 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	if len(ring) < 4 {
		return nil, fmt.Errorf("polygon needs at least 3 distinct points, got %d", len(in.Polygon))
	}
	for i, p := range ring {
		if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			return nil, fmt.Errorf("polygon[%d] = %v is not a [lng, lat] pair", i, p)
		}
	}
	return ring, nil
}

// Job statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is an asynchronous optimize request and, once finished, its result.
type Job struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	PlanDate    string          `json:"planDate,omitempty"`
	Request     json.RawMessage `json:"request"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PlanMetrics records the search statistics of one optimize run.
type PlanMetrics struct {
	JobID             string    `json:"jobId,omitempty"`
	PlanDate          string    `json:"planDate"`
	Algo              string    `json:"algo"`
	Vehicles          int       `json:"vehicles"`
	Stops             int       `json:"stops"`
	Dropped           int       `json:"dropped"`
	Iterations        int       `json:"iterations"`
	Improvements      int       `json:"improvements"`
	Penalized         int       `json:"penalized"`
	FirstSolutionCost int64     `json:"firstSolutionCost"`
	BestCost          int64     `json:"bestCost"`
	ElapsedMs         int64     `json:"elapsedMs"`
	CreatedAt         time.Time `json:"createdAt"`
}
