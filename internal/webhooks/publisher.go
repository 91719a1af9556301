package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"digipin/internal/store"
)

// Event is the JSON envelope delivered to callback URLs.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
	Data any       `json:"data"`
}

// Publisher queues callback deliveries; the Worker sends them.
type Publisher struct {
	Store  store.Store
	Secret string
}

func NewPublisher(s store.Store, secret string) *Publisher {
	return &Publisher{Store: s, Secret: secret}
}

// Emit enqueues one delivery of eventType to url and returns its delivery id.
// key identifies the event for deduplication; retries of the same key reuse
// the existing delivery.
func (p *Publisher) Emit(ctx context.Context, eventType, url, key string, data any) (string, error) {
	if url == "" {
		return "", nil
	}
	id := key
	if id == "" {
		id = fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	body, err := json.Marshal(Event{ID: id, Type: eventType, TS: time.Now().UTC(), Data: data})
	if err != nil {
		return "", fmt.Errorf("webhooks: marshal %s: %w", eventType, err)
	}
	return p.Store.EnqueueWebhook(ctx, eventType, url, p.Secret, body)
}
