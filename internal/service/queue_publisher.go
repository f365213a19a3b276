package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/portfolio-builder/internal/queue"
)

// EventPublisher publishes generation events. Failures are reported to the
// caller, which logs them and carries on.
type EventPublisher interface {
	PublishGenerationCompleted(ctx context.Context, ev queue.GenerationCompletedEvent) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishGenerationCompleted(context.Context, queue.GenerationCompletedEvent) error {
	return nil
}

// AMQPPublisher publishes persistent messages to the durable generation
// queue. Each publish opens its own connection; generation is slow enough
// that the dial cost does not matter.
type AMQPPublisher struct {
	url string
	log *slog.Logger
}

func NewAMQPPublisher(url string, log *slog.Logger) *AMQPPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &AMQPPublisher{url: url, log: log}
}

func (p *AMQPPublisher) PublishGenerationCompleted(ctx context.Context, ev queue.GenerationCompletedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue.GenerationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	if err := ch.PublishWithContext(ctx, "", queue.GenerationQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.log.Debug("generation event published", "user_id", ev.UserID, "kind", ev.Kind)
	return nil
}
