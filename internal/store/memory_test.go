package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryContainsPoint(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.CreateServiceArea(ctx, ServiceAreaInput{Name: "Hyderabad", Polygon: [][2]float64{{78, 17}, {79, 17}, {79, 18}, {78, 18}}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// L-shaped area whose bounding box covers a point outside the polygon.
	if _, err := m.CreateServiceArea(ctx, ServiceAreaInput{Name: "Bengaluru", Polygon: [][2]float64{{77, 12}, {79, 12}, {79, 13}, {78, 13}, {78, 14}, {77, 14}}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{17.385, 78.4867, true},
		{12.5, 78.5, true},
		{13.5, 77.5, true},
		{13.5, 78.5, false},
		{28.6, 77.2, false},
	}
	for _, tc := range cases {
		got, err := m.ContainsPoint(ctx, tc.lat, tc.lng)
		if err != nil {
			t.Fatalf("ContainsPoint: %v", err)
		}
		if got != tc.want {
			t.Errorf("ContainsPoint(%v, %v) = %v, want %v", tc.lat, tc.lng, got, tc.want)
		}
	}

	areas, _ := m.ListServiceAreas(ctx)
	if len(areas) != 2 || areas[0].Name != "Hyderabad" || len(areas[0].Polygon) != 5 {
		t.Fatalf("areas = %+v", areas)
	}
}

func TestServiceAreaValidation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.CreateServiceArea(ctx, ServiceAreaInput{Name: "x", Polygon: [][2]float64{{78, 17}, {79, 17}}}); err == nil {
		t.Fatal("expected error for two-point polygon")
	}
	if _, err := m.CreateServiceArea(ctx, ServiceAreaInput{Polygon: [][2]float64{{78, 17}, {79, 17}, {79, 18}}}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := m.CreateServiceArea(ctx, ServiceAreaInput{Name: "x", Polygon: [][2]float64{{17, 278}, {79, 17}, {79, 18}}}); err == nil {
		t.Fatal("expected error for swapped coordinates")
	}
}

func TestMemoryJobs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	j, err := m.CreateJob(ctx, Job{Request: []byte(`{}`)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.ID == "" || j.Status != JobPending || j.CreatedAt.IsZero() {
		t.Fatalf("job = %+v", j)
	}
	j.Status = JobDone
	j.Result = []byte(`{"routes":[]}`)
	if err := m.UpdateJob(ctx, j); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := m.GetJob(ctx, j.ID)
	if err != nil || got.Status != JobDone || string(got.Result) != `{"routes":[]}` {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if _, err := m.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := m.UpdateJob(ctx, Job{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryPlanMetrics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.SavePlanMetrics(ctx, PlanMetrics{PlanDate: "2026-10-19", Algo: "GUIDED_LOCAL_SEARCH", BestCost: 10})
	_ = m.SavePlanMetrics(ctx, PlanMetrics{PlanDate: "2026-10-19", Algo: "GREEDY_DESCENT", BestCost: 12})
	_ = m.SavePlanMetrics(ctx, PlanMetrics{PlanDate: "2026-10-20", Algo: "GUIDED_LOCAL_SEARCH"})

	all, _ := m.ListPlanMetrics(ctx, "2026-10-19", "")
	if len(all) != 2 {
		t.Fatalf("all = %+v", all)
	}
	gls, _ := m.ListPlanMetrics(ctx, "2026-10-19", "GUIDED_LOCAL_SEARCH")
	if len(gls) != 1 || gls[0].BestCost != 10 {
		t.Fatalf("filtered = %+v", gls)
	}
}

func TestMemoryWebhookLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	payload := []byte(`{"id":"evt_1","type":"job.completed"}`)
	id, err := m.EnqueueWebhook(ctx, "job.completed", "http://example.test/hook", "s3cret", payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	again, _ := m.EnqueueWebhook(ctx, "job.completed", "http://example.test/hook", "s3cret", payload)
	if again != id {
		t.Fatalf("duplicate payload enqueued twice: %s vs %s", id, again)
	}

	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].Secret != "s3cret" {
		t.Fatalf("due = %+v", due)
	}
	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &next, "500", 500, 3); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if due, _ := m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("retry scheduled in the future is due: %+v", due)
	}
	if err := m.FailWebhookDelivery(ctx, id, "gave up", 500, 3); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, _ := m.ListWebhookDeliveries(ctx, DeliveryFailed, 0)
	if len(failed) != 1 || failed[0].Attempts != 2 || failed[0].LastError != "gave up" {
		t.Fatalf("failed = %+v", failed)
	}
}
