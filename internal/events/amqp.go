package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "digipin.events"
	queueName    = "optimize_job_events"
)

// Sink receives every lifecycle event for delivery outside the process.
type Sink interface {
	PublishEvent(ctx context.Context, evt Event) error
}

// AMQPSink publishes events to a durable fanout exchange.
type AMQPSink struct {
	conn *amqp.Connection
	mu   sync.Mutex // amqp channels are not safe for concurrent publish
	ch   *amqp.Channel
}

func NewAMQPSink(url string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch}, nil
}

func (s *AMQPSink) PublishEvent(ctx context.Context, evt Event) error {
	msg, err := newPublishing(evt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.PublishWithContext(ctx, exchangeName, "", false, false, msg)
}

func (s *AMQPSink) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}

func newPublishing(evt Event) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         evt.Type,
		MessageId:    evt.JobID + ":" + evt.Type,
		Timestamp:    evt.TS,
		Body:         body,
	}, nil
}
