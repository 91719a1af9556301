package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	ch := b.Subscribe("j1")
	other := b.Subscribe("j2")

	evt := Event{Type: JobStarted, JobID: "j1", Data: map[string]any{"x": 1}}
	b.Publish("j1", evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type || got.Data["x"].(int) != 1 {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("event leaked to other topic: %+v", got)
	default:
	}

	b.Unsubscribe("j1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// second unsubscribe must not panic on a closed channel
	b.Unsubscribe("j1", ch)
}

func TestMemoryBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewMemoryBroker()
	ch := b.Subscribe("j1")
	for i := 0; i < 20; i++ {
		b.Publish("j1", Event{Type: JobStarted})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer len %d, want %d", len(ch), cap(ch))
	}
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBrokerClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer b.Close()
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	ch := b.Subscribe("j1")
	b.Publish("j1", Event{Type: JobCompleted, JobID: "j1", Data: map[string]any{"cost": 42}})

	select {
	case got := <-ch:
		if got.Type != JobCompleted || got.JobID != "j1" || got.Data["cost"].(float64) != 42 {
			t.Fatalf("got %+v", got)
		}
		if !got.Terminal() {
			t.Fatal("completed event should be terminal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}

	b.Unsubscribe("j1", ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected event after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestNewPublishing(t *testing.T) {
	ts := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	msg, err := newPublishing(Event{Type: JobFailed, JobID: "j9", TS: ts})
	if err != nil {
		t.Fatalf("newPublishing: %v", err)
	}
	if msg.DeliveryMode != amqp.Persistent || msg.Type != JobFailed || msg.MessageId != "j9:job.failed" || !msg.Timestamp.Equal(ts) {
		t.Fatalf("msg = %+v", msg)
	}
	var back Event
	if err := json.Unmarshal(msg.Body, &back); err != nil || back.JobID != "j9" {
		t.Fatalf("body = %s, %v", msg.Body, err)
	}
}
