// Package queue carries sync job ids from the API to the workers.
package queue

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"example.com/webinar-sync/internal/logging"
)

// Client publishes and consumes job ids.
type Client interface {
	Publish(ctx context.Context, id string) error
	Consume(ctx context.Context) (<-chan string, error)
	Close() error
}

type rabbitClient struct {
	conn     *amqp.Connection
	q        amqp.Queue
	prefetch int
}

// NewRabbitClient connects to RabbitMQ and declares a durable queue with the
// given name. prefetch bounds unacknowledged deliveries per consumer.
func NewRabbitClient(url, queueName string, prefetch int) (Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	// channels are opened per publish/consume
	defer ch.Close()
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &rabbitClient{conn: conn, q: q, prefetch: prefetch}, nil
}

func (r *rabbitClient) Publish(ctx context.Context, id string) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx,
		"", r.q.Name, false, false,
		amqp.Publishing{
			ContentType:   "text/plain",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: logging.CorrelationIDFromContext(ctx),
			Timestamp:     time.Now().UTC(),
			Body:          []byte(id),
		},
	)
}

// Consume streams job ids. A delivery is acked once a reader takes it and
// requeued if ctx ends first.
func (r *rabbitClient) Consume(ctx context.Context) (<-chan string, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	msgs, err := ch.Consume(r.q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	out := make(chan string)
	go func() {
		defer ch.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- string(d.Body):
					if err := d.Ack(false); err != nil {
						logging.Warn().Err(err).Str("job_id", string(d.Body)).Msg("ack failed")
					}
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *rabbitClient) Close() error {
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
