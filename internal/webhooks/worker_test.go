package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"digipin/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
}

type failRec struct {
	ID      string
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var (
		mu                 sync.Mutex
		sig, tsHdr, evType string
		body               []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		sig = r.Header.Get(HeaderSignature)
		tsHdr = r.Header.Get(HeaderTimestamp)
		evType = r.Header.Get(HeaderEventType)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3)
	w.HTTP = srv.Client()
	pub := NewPublisher(rs, "secret")
	id, err := pub.Emit(context.Background(), "job.completed", srv.URL, "evt_job1", map[string]string{"jobId": "job1"})
	if err != nil || id == "" {
		t.Fatalf("emit failed: %v", err)
	}

	w.ProcessOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if evType != "job.completed" {
		t.Fatalf("event type header = %q", evType)
	}
	ts, err := strconv.ParseInt(tsHdr, 10, 64)
	if err != nil {
		t.Fatalf("timestamp header = %q", tsHdr)
	}
	if !VerifyHMAC("secret", ts, body, sig, time.Minute) {
		t.Fatalf("signature %q does not verify", sig)
	}
	if len(rs.marks) != 1 || !rs.marks[0].Success || rs.marks[0].Code != http.StatusNoContent {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2)
	w.HTTP = srv.Client()
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), "job.failed", srv.URL, "", []byte(`{"id":"evt2"}`))

	w.ProcessOnce(context.Background())
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].LastErr != "http 500" {
		t.Fatalf("expected retry mark, got %+v", rs.marks)
	}
	if len(rs.fails) != 0 {
		t.Fatalf("failed too early: %+v", rs.fails)
	}

	// Pull the retry forward so it is due again.
	now := time.Now().Add(-time.Second)
	_ = rs.Memory.MarkWebhookDelivery(context.Background(), id, false, &now, "http 500", 500, 0)
	// That extra mark counted as an attempt; the next failure exhausts the budget.
	w.ProcessOnce(context.Background())
	if len(rs.fails) != 1 || rs.fails[0].ID != id {
		t.Fatalf("expected fail recorded, got %+v", rs.fails)
	}
}

func TestPublisherSkipsEmptyURL(t *testing.T) {
	m := store.NewMemory()
	id, err := NewPublisher(m, "").Emit(context.Background(), "job.completed", "", "", nil)
	if err != nil || id != "" {
		t.Fatalf("Emit = %q, %v", id, err)
	}
	if items, _ := m.ListWebhookDeliveries(context.Background(), "", 0); len(items) != 0 {
		t.Fatalf("unexpected deliveries: %+v", items)
	}
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"id":"evt"}`)
	ts := time.Now().Unix()
	sig := SignHMAC("k", ts, body)
	if !VerifyHMAC("k", ts, body, sig, time.Minute) {
		t.Fatal("valid signature rejected")
	}
	if VerifyHMAC("other", ts, body, sig, 0) {
		t.Fatal("wrong secret accepted")
	}
	if VerifyHMAC("k", ts-3600, body, SignHMAC("k", ts-3600, body), time.Minute) {
		t.Fatal("stale timestamp accepted")
	}
	if VerifyHMAC("k", ts, body, "sha256=zz", 0) {
		t.Fatal("garbage signature accepted")
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(0); got != time.Second {
		t.Fatalf("nextBackoff(0) = %v", got)
	}
	if got := nextBackoff(3); got != 8*time.Second {
		t.Fatalf("nextBackoff(3) = %v", got)
	}
	if got := nextBackoff(40); got != time.Hour {
		t.Fatalf("nextBackoff(40) = %v", got)
	}
}
