package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type WebhookDelivery struct {
	ID            string    `json:"id"`
	EventType     string    `json:"eventType"`
	URL           string    `json:"url"`
	Secret        string    `json:"-"`
	Payload       []byte    `json:"-"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	ResponseCode  int       `json:"responseCode,omitempty"`
}

// computeDedupKey uses the payload's "id" field when present, otherwise a
// short content hash.
func computeDedupKey(payload []byte) string {
	var env struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &env); err == nil && env.ID != "" {
		return env.ID
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
