package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/google/uuid"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	areas      map[string]*areaItem
	areaOrder  []string
	index      *rtreego.Rtree
	jobs       map[string]Job
	planMx     map[string][]PlanMetrics // planDate -> items
	deliveries map[string]*WebhookDelivery
	delOrder   []string
	dlq        []WebhookDelivery
}

func NewMemory() *Memory {
	return &Memory{
		areas:      map[string]*areaItem{},
		index:      rtreego.NewTree(2, 2, 16),
		jobs:       map[string]Job{},
		planMx:     map[string][]PlanMetrics{},
		deliveries: map[string]*WebhookDelivery{},
	}
}

// areaItem indexes a service area by its bounding box.
type areaItem struct {
	area ServiceArea
	rect rtreego.Rect
}

func (a *areaItem) Bounds() rtreego.Rect { return a.rect }

func boundingRect(ring [][2]float64) (rtreego.Rect, error) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range ring {
		minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
		minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
	}
	const pad = 1e-9
	return rtreego.NewRect(rtreego.Point{minX, minY}, []float64{maxX - minX + pad, maxY - minY + pad})
}

func (m *Memory) CreateServiceArea(ctx context.Context, in ServiceAreaInput) (ServiceArea, error) {
	ring, err := in.Validate()
	if err != nil {
		return ServiceArea{}, err
	}
	rect, err := boundingRect(ring)
	if err != nil {
		return ServiceArea{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := ServiceArea{ID: uuid.New().String(), Name: in.Name, Polygon: ring, CreatedAt: time.Now().UTC()}
	item := &areaItem{area: a, rect: rect}
	m.areas[a.ID] = item
	m.areaOrder = append(m.areaOrder, a.ID)
	m.index.Insert(item)
	return a, nil
}

func (m *Memory) ListServiceAreas(ctx context.Context) ([]ServiceArea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServiceArea, 0, len(m.areaOrder))
	for _, id := range m.areaOrder {
		out = append(out, m.areas[id].area)
	}
	return out, nil
}

// ContainsPoint narrows candidates with the R-tree, then runs an exact
// point-in-polygon test.
func (m *Memory) ContainsPoint(ctx context.Context, lat, lng float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.index.SearchIntersect(rtreego.Point{lng, lat}.ToRect(1e-9)) {
		if pointInRing(lng, lat, s.(*areaItem).area.Polygon) {
			return true, nil
		}
	}
	return false, nil
}

// pointInRing is the even-odd ray casting test; x is longitude, y latitude.
func pointInRing(x, y float64, ring [][2]float64) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

func (m *Memory) CreateJob(ctx context.Context, job Job) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	m.jobs[job.ID] = job
	return job, nil
}

func (m *Memory) UpdateJob(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	job.CreatedAt = prev.CreatedAt
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, pm PlanMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	m.planMx[pm.PlanDate] = append(m.planMx[pm.PlanDate], pm)
	return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, planDate, algo string) ([]PlanMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []PlanMetrics{}
	for _, it := range m.planMx[planDate] {
		if algo == "" || it.Algo == algo {
			out = append(out, it)
		}
	}
	return out, nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dk := computeDedupKey(payload)
	for _, id := range m.delOrder {
		d := m.deliveries[id]
		if d.EventType == eventType && d.URL == url && computeDedupKey(d.Payload) == dk {
			return d.ID, nil
		}
	}
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{ID: id, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: time.Now()}
	m.delOrder = append(m.delOrder, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.delOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	if success {
		d.Status = DeliveryDelivered
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(1 * time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	m.dlq = append(m.dlq, *d)
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []WebhookDelivery{}
	for _, id := range m.delOrder {
		d := m.deliveries[id]
		if status == "" || d.Status == status {
			out = append(out, *d)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
