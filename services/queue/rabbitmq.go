package queuesvc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/classhour/backend/core"
)

const taskQueueName = "classhour.tasks"

// RabbitMQQueue publishes and consumes background tasks over an AMQP broker.
type RabbitMQQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	registry *Registry
	conf     *core.Config
	logger   core.Logger
}

var _ core.TaskQueue = (*RabbitMQQueue)(nil)

func NewRabbitMQQueue(registry *Registry, conf *core.Config, logger core.Logger) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(conf.Queue.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "opening channel")
	}
	// idempotent declare
	if _, err = ch.QueueDeclare(
		taskQueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declaring queue")
	}
	return &RabbitMQQueue{
		conn:     conn,
		ch:       ch,
		registry: registry,
		conf:     conf,
		logger:   logger,
	}, nil
}

func (q *RabbitMQQueue) Enqueue(ctx context.Context, name string, payload interface{}) error {
	body, err := encode(name, payload)
	if err != nil {
		return err
	}
	return errors.Wrap(q.ch.PublishWithContext(ctx, "", taskQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}), "publishing task")
}

// Consume blocks reading tasks until the context is cancelled or the channel
// closes. Handler failures are logged and the delivery is not requeued: the
// dispatch layer already did its bounded retries, and handlers are idempotent
// so a rejected task can safely be replayed by an operator.
func (q *RabbitMQQueue) Consume(ctx context.Context) error {
	if err := q.ch.Qos(1, 0, false); err != nil {
		return errors.Wrap(err, "setting QoS")
	}
	deliveries, err := q.ch.Consume(taskQueueName, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "starting consumer")
	}

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var t task
			if err := json.Unmarshal(d.Body, &t); err != nil {
				q.logger.Error("unreadable task envelope", err)
				_ = d.Reject(false)
				continue
			}
			if err := q.registry.dispatch(ctx, t, q.conf.Queue.MaxAttempts, q.conf.Queue.RetryBackoff); err != nil {
				q.logger.Error("task failed", err)
				_ = d.Reject(false)
				continue
			}
			_ = d.Ack(false)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *RabbitMQQueue) Close() error {
	if q.ch != nil {
		if err := q.ch.Close(); err != nil {
			return err
		}
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
