package bus

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer reads one command queue with a pool of workers. Each delivery is
// decoded and handed to the Handler; resulting events are enqueued on the
// Emitter before the delivery is acked, so an accepted command always has its
// outcome on the way out. Handler errors are fatal to the worker; the
// delivery is nacked back onto the queue for redelivery after restart.
type Consumer struct {
	conn    *amqp.Connection
	queue   string
	workers int
	handler Handler
	emitter *Emitter
	log     zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, queue string, workers int, handler Handler, emitter *Emitter, log zerolog.Logger) *Consumer {
	return &Consumer{
		conn:    conn,
		queue:   queue,
		workers: workers,
		handler: handler,
		emitter: emitter,
		log:     log.With().Str("queue", queue).Logger(),
	}
}

// Run declares the topology and consumes until ctx is cancelled or a worker
// fails. It is safe to call again after an error; a fresh channel is opened
// each time.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel for %s: %w", c.queue, err)
	}
	defer ch.Close()

	msgs, err := c.setup(ch)
	if err != nil {
		return err
	}
	c.log.Info().Int("workers", c.workers).Msg("consuming")

	return c.runWorkers(ctx, msgs)
}

// runWorkers drains msgs with the worker pool. The first worker failure
// cancels its siblings so the pool stops promptly and the supervisor can
// restart it, instead of waiting for each worker to hit the fault itself.
func (c *Consumer) runWorkers(ctx context.Context, msgs <-chan amqp.Delivery) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, c.workers)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.work(wctx, msgs); err != nil {
				cancel()
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return ctx.Err()
}

func (c *Consumer) setup(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := ch.QueueBind(q.Name, c.queue, Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", c.queue, err)
	}
	// Prefetch bounds in-flight deliveries to the worker pool size.
	if err := ch.Qos(c.workers, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return msgs, nil
}

func (c *Consumer) work(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			if err := c.handleDelivery(ctx, d); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	events, err := c.handler.Handle(ctx, d.MessageId, d.Type, d.Body)
	if err != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.Error().Err(nackErr).Msg("nack failed")
		}
		return fmt.Errorf("handle message on %s: %w", c.queue, err)
	}
	for _, ev := range events {
		c.emitter.Enqueue(ev)
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack on %s: %w", c.queue, err)
	}
	return nil
}
