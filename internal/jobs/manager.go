// Package jobs runs optimize requests asynchronously on a bounded worker
// pool and reports their lifecycle through events and webhooks.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"digipin/internal/events"
	"digipin/internal/metrics"
	"digipin/internal/obs"
	"digipin/internal/routing"
	"digipin/internal/store"
	"digipin/internal/webhooks"
)

// ErrQueueFull is returned by Submit when every worker is busy and the
// queue is at capacity.
var ErrQueueFull = errors.New("jobs: queue full")

// Optimizer is the routing call a job performs.
type Optimizer interface {
	Optimize(ctx context.Context, req routing.RouteRequest) (*routing.RouteAssignment, error)
}

type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds one job; it should exceed the solver time limit.
	Timeout time.Duration
	// Algo labels saved plan metrics.
	Algo string
}

type Manager struct {
	Store  store.Store
	Opt    Optimizer
	Broker events.Broker
	Sink   events.Sink         // optional
	Hooks  *webhooks.Publisher // optional

	opts   Options
	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
}

func NewManager(s store.Store, o Optimizer, b events.Broker, opts Options) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 40 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		Store:  s,
		Opt:    o,
		Broker: b,
		opts:   opts,
		queue:  make(chan string, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Submit validates req, stores a pending job and queues it.
func (m *Manager) Submit(ctx context.Context, req routing.RouteRequest, planDate, callbackURL string) (store.Job, error) {
	if err := routing.Validate(req); err != nil {
		return store.Job{}, err
	}
	if planDate == "" {
		planDate = m.now().UTC().Format("2006-01-02")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return store.Job{}, fmt.Errorf("jobs: marshal request: %w", err)
	}
	job, err := m.Store.CreateJob(ctx, store.Job{Status: store.JobPending, PlanDate: planDate, Request: body, CallbackURL: callbackURL})
	if err != nil {
		return store.Job{}, fmt.Errorf("jobs: create: %w", err)
	}

	// queued goes out before the send so an idle worker cannot report
	// job.started ahead of it
	m.publish(events.Event{Type: events.JobQueued, JobID: job.ID})
	select {
	case m.queue <- job.ID:
		metrics.JobQueueDepth.Set(float64(len(m.queue)))
	default:
		job.Status, job.Error = store.JobFailed, ErrQueueFull.Error()
		_ = m.Store.UpdateJob(ctx, job)
		metrics.Jobs.WithLabelValues("rejected").Inc()
		m.publish(events.Event{Type: events.JobFailed, JobID: job.ID, Data: map[string]any{"error": job.Error}})
		m.callback(ctx, job, events.JobFailed, map[string]any{"jobId": job.ID, "status": job.Status, "error": job.Error})
		return job, ErrQueueFull
	}
	return job, nil
}

// Get returns the stored job.
func (m *Manager) Get(ctx context.Context, id string) (store.Job, error) {
	return m.Store.GetJob(ctx, id)
}

func (m *Manager) Start() {
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop cancels running jobs, which finish with their best plan so far, and
// waits for the workers. Jobs still queued stay pending.
func (m *Manager) Stop() {
	m.once.Do(m.cancel)
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case id := <-m.queue:
			metrics.JobQueueDepth.Set(float64(len(m.queue)))
			m.run(id)
		}
	}
}

func (m *Manager) run(id string) {
	ctx, cancel := context.WithTimeout(obs.WithRequestID(m.ctx, id), m.opts.Timeout)
	defer cancel()

	job, err := m.Store.GetJob(ctx, id)
	if err != nil {
		log.Printf("jobs: load %s: %v", id, err)
		return
	}
	var req routing.RouteRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		m.fail(ctx, job, fmt.Errorf("decode request: %w", err))
		return
	}

	job.Status = store.JobRunning
	if err := m.Store.UpdateJob(ctx, job); err != nil {
		log.Printf("jobs: mark running %s: %v", id, err)
	}
	m.publish(events.Event{Type: events.JobStarted, JobID: id, Data: map[string]any{"stops": len(req.Stops), "vehicles": req.VehicleCount}})

	start := time.Now()
	res, err := m.Opt.Optimize(ctx, req)
	if err != nil {
		m.fail(ctx, job, err)
		return
	}
	m.complete(ctx, job, req, res, time.Since(start))
}

func (m *Manager) complete(ctx context.Context, job store.Job, req routing.RouteRequest, res *routing.RouteAssignment, elapsed time.Duration) {
	body, err := json.Marshal(res)
	if err != nil {
		m.fail(ctx, job, fmt.Errorf("encode result: %w", err))
		return
	}
	job.Status, job.Result, job.Error = store.JobDone, body, ""
	// the job context may be spent; persist the outcome regardless
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.Store.UpdateJob(sctx, job); err != nil {
		log.Printf("jobs: save result %s: %v", job.ID, err)
	}

	pm := store.PlanMetrics{
		JobID:             job.ID,
		PlanDate:          job.PlanDate,
		Algo:              m.opts.Algo,
		Vehicles:          req.VehicleCount,
		Stops:             len(req.Stops),
		Dropped:           len(res.Dropped),
		Iterations:        res.Stats.Iterations,
		Improvements:      res.Stats.Improvements,
		Penalized:         res.Stats.Penalized,
		FirstSolutionCost: res.Stats.FirstSolutionCost,
		BestCost:          res.Stats.BestCost,
		ElapsedMs:         elapsed.Milliseconds(),
	}
	if err := m.Store.SavePlanMetrics(sctx, pm); err != nil {
		log.Printf("jobs: save plan metrics %s: %v", job.ID, err)
	}

	metrics.Jobs.WithLabelValues(store.JobDone).Inc()
	log.Printf("jobs: job=%s done routes=%d dropped=%d cost=%d dur=%dms", job.ID, len(res.Routes), len(res.Dropped), res.Cost, elapsed.Milliseconds())
	m.publish(events.Event{Type: events.JobCompleted, JobID: job.ID, Data: map[string]any{
		"routes":  len(res.Routes),
		"dropped": len(res.Dropped),
		"cost":    res.Cost,
	}})
	m.callback(sctx, job, events.JobCompleted, map[string]any{"jobId": job.ID, "status": job.Status, "result": res})
}

func (m *Manager) fail(ctx context.Context, job store.Job, cause error) {
	job.Status, job.Error = store.JobFailed, cause.Error()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.Store.UpdateJob(sctx, job); err != nil {
		log.Printf("jobs: save failure %s: %v", job.ID, err)
	}
	metrics.Jobs.WithLabelValues(store.JobFailed).Inc()
	log.Printf("jobs: job=%s failed: %v", job.ID, cause)
	m.publish(events.Event{Type: events.JobFailed, JobID: job.ID, Data: map[string]any{"error": job.Error}})
	m.callback(sctx, job, events.JobFailed, map[string]any{"jobId": job.ID, "status": job.Status, "error": job.Error})
}

func (m *Manager) publish(evt events.Event) {
	if evt.TS.IsZero() {
		evt.TS = m.now().UTC()
	}
	if m.Broker != nil {
		m.Broker.Publish(evt.JobID, evt)
	}
	if m.Sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.Sink.PublishEvent(ctx, evt); err != nil {
			log.Printf("jobs: sink publish %s %s: %v", evt.JobID, evt.Type, err)
		}
	}
}

func (m *Manager) callback(ctx context.Context, job store.Job, eventType string, data any) {
	if m.Hooks == nil || job.CallbackURL == "" {
		return
	}
	if _, err := m.Hooks.Emit(ctx, eventType, job.CallbackURL, job.ID+":"+eventType, data); err != nil {
		log.Printf("jobs: enqueue callback %s: %v", job.ID, err)
	}
}
