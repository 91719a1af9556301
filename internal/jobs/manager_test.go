package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"digipin/internal/digipin"
	"digipin/internal/events"
	"digipin/internal/opt"
	"digipin/internal/routing"
	"digipin/internal/store"
	"digipin/internal/webhooks"
)

func code(t *testing.T, lat, lon float64) string {
	t.Helper()
	c, err := digipin.Encode(lat, lon)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return string(c)
}

func request(t *testing.T) routing.RouteRequest {
	return routing.RouteRequest{
		Depot:        code(t, 17.385, 78.4867),
		VehicleCount: 1,
		Stops: []routing.RouteLocation{
			{Code: code(t, 17.39, 78.49), Priority: 1, TimeWindow: routing.TimeWindow{Start: 0, End: 9999}},
			{Code: code(t, 17.40, 78.50), Priority: 2, TimeWindow: routing.TimeWindow{Start: 0, End: 9999}},
		},
	}
}

type stubOptimizer struct {
	res *routing.RouteAssignment
	err error
}

func (s stubOptimizer) Optimize(ctx context.Context, req routing.RouteRequest) (*routing.RouteAssignment, error) {
	return s.res, s.err
}

type recordSink struct {
	mu  sync.Mutex
	got []string
}

func (r *recordSink) PublishEvent(ctx context.Context, evt events.Event) error {
	r.mu.Lock()
	r.got = append(r.got, evt.Type)
	r.mu.Unlock()
	return nil
}

func (r *recordSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

// waitTerminal reads ch until a completed or failed event arrives.
func waitTerminal(t *testing.T, ch chan events.Event) events.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Terminal() {
				return evt
			}
		case <-deadline:
			t.Fatal("timeout waiting for job to finish")
		}
	}
}

func TestManagerRunsJobWithRealOptimizer(t *testing.T) {
	mem := store.NewMemory()
	broker := events.NewMemoryBroker()
	opts := routing.DefaultOptions()
	opts.TimeLimit = 200 * time.Millisecond
	opts.IterationsLimit = 20
	m := NewManager(mem, routing.New(nil, opts), broker, Options{Workers: 1, Algo: opt.GuidedLocalSearch.String()})
	sink := &recordSink{}
	m.Sink = sink
	m.Hooks = webhooks.NewPublisher(mem, "s3cret")

	job, err := m.Submit(context.Background(), request(t), "2026-10-19", "http://example.test/hook")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != store.JobPending {
		t.Fatalf("status = %s", job.Status)
	}
	ch := broker.Subscribe(job.ID)
	m.Start()
	defer m.Stop()

	evt := waitTerminal(t, ch)
	if evt.Type != events.JobCompleted {
		t.Fatalf("event = %+v", evt)
	}

	got, err := m.Get(context.Background(), job.ID)
	if err != nil || got.Status != store.JobDone {
		t.Fatalf("job = %+v, %v", got, err)
	}
	var res routing.RouteAssignment
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(res.Routes) != 1 || len(res.Routes[0].Stops) != 4 {
		t.Fatalf("routes = %+v", res.Routes)
	}

	pm, _ := mem.ListPlanMetrics(context.Background(), "2026-10-19", "GUIDED_LOCAL_SEARCH")
	if len(pm) != 1 || pm[0].JobID != job.ID || pm[0].Stops != 2 {
		t.Fatalf("plan metrics = %+v", pm)
	}

	hooks, _ := mem.ListWebhookDeliveries(context.Background(), "", 0)
	if len(hooks) != 1 || hooks[0].EventType != events.JobCompleted || hooks[0].Secret != "s3cret" {
		t.Fatalf("webhook deliveries = %+v", hooks)
	}

	types := sink.types()
	want := []string{events.JobQueued, events.JobStarted, events.JobCompleted}
	if len(types) != len(want) {
		t.Fatalf("sink events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("sink events = %v, want %v", types, want)
		}
	}
}

func TestManagerRecordsFailure(t *testing.T) {
	mem := store.NewMemory()
	broker := events.NewMemoryBroker()
	m := NewManager(mem, stubOptimizer{err: &routing.NoSolutionError{}}, broker, Options{Workers: 2})

	job, err := m.Submit(context.Background(), request(t), "", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.PlanDate == "" {
		t.Fatal("plan date not defaulted")
	}
	ch := broker.Subscribe(job.ID)
	m.Start()
	defer m.Stop()

	if evt := waitTerminal(t, ch); evt.Type != events.JobFailed || evt.Data["error"] == "" {
		t.Fatalf("event = %+v", evt)
	}
	got, _ := m.Get(context.Background(), job.ID)
	if got.Status != store.JobFailed || got.Error == "" {
		t.Fatalf("job = %+v", got)
	}
	if hooks, _ := mem.ListWebhookDeliveries(context.Background(), "", 0); len(hooks) != 0 {
		t.Fatalf("callback without URL or publisher: %+v", hooks)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	m := NewManager(store.NewMemory(), stubOptimizer{}, nil, Options{})
	req := request(t)
	req.Stops[0].Code = "not-a-code"
	_, err := m.Submit(context.Background(), req, "", "")
	var ice *routing.InvalidCodeError
	if !errors.As(err, &ice) {
		t.Fatalf("err = %v, want InvalidCodeError", err)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem, stubOptimizer{}, nil, Options{QueueSize: 1})
	sink := &recordSink{}
	m.Sink = sink
	if _, err := m.Submit(context.Background(), request(t), "", ""); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	job, err := m.Submit(context.Background(), request(t), "", "")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	got, _ := mem.GetJob(context.Background(), job.ID)
	if got.Status != store.JobFailed {
		t.Fatalf("rejected job status = %s", got.Status)
	}
	// the rejected job's queued event is followed by a failure
	types := sink.types()
	want := []string{events.JobQueued, events.JobQueued, events.JobFailed}
	if len(types) != len(want) || types[2] != events.JobFailed || types[1] != events.JobQueued {
		t.Fatalf("sink events = %v, want %v", types, want)
	}
}

func TestQueuedPrecedesStartedWithIdleWorker(t *testing.T) {
	res := &routing.RouteAssignment{Routes: []routing.VehicleRoute{}, Dropped: []string{}}
	for i := 0; i < 20; i++ {
		m := NewManager(store.NewMemory(), stubOptimizer{res: res}, events.NewMemoryBroker(), Options{Workers: 1})
		sink := &recordSink{}
		m.Sink = sink
		m.Start()
		if _, err := m.Submit(context.Background(), request(t), "", ""); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		deadline := time.Now().Add(5 * time.Second)
		for len(sink.types()) < 3 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		m.Stop()
		types := sink.types()
		if len(types) != 3 || types[0] != events.JobQueued || types[1] != events.JobStarted {
			t.Fatalf("run %d: sink events = %v", i, types)
		}
	}
}
