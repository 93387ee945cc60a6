package bus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Emitter decouples command processing from publishing: handlers enqueue
// events and return immediately, a single goroutine drains the queue in
// order. A publish failure stops the emitter; the process supervisor is the
// recovery strategy.
type Emitter struct {
	conn  *amqp.Connection
	queue chan Event
	log   zerolog.Logger
}

func NewEmitter(conn *amqp.Connection, buffer int, log zerolog.Logger) *Emitter {
	return &Emitter{
		conn:  conn,
		queue: make(chan Event, buffer),
		log:   log,
	}
}

// Enqueue hands an event to the emission path. Blocks when the buffer is
// full, which backpressures the consumer workers.
func (e *Emitter) Enqueue(ev Event) {
	e.queue <- ev
}

// Run publishes queued events until ctx is cancelled or a publish fails.
func (e *Emitter) Run(ctx context.Context) error {
	ch, err := e.conn.Channel()
	if err != nil {
		return fmt.Errorf("open emitter channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.queue:
			if err := e.publish(ctx, ch, ev); err != nil {
				return err
			}
		}
	}
}

func (e *Emitter) publish(ctx context.Context, ch *amqp.Channel, ev Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Schema, err)
	}

	err = ch.PublishWithContext(ctx,
		Exchange,
		ev.Topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         ev.Schema,
			MessageId:    ev.Key,
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Schema, ev.Topic, err)
	}

	eventsPublished.WithLabelValues(ev.Topic).Inc()
	e.log.Debug().Str("topic", ev.Topic).Str("schema", ev.Schema).Str("key", ev.Key).Msg("event published")
	return nil
}
