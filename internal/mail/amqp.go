package mail

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPQueue publishes messages to a durable RabbitMQ queue drained by
// cmd/mailer.
type AMQPQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func DialAMQP(url, queue string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &AMQPQueue{conn: conn, ch: ch, queue: queue}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Consume delivers queued messages through sender until ctx is done.
func (q *AMQPQueue) Consume(ctx context.Context, sender Sender, logger *zap.SugaredLogger) error {
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			handleDelivery(ctx, d, sender, logger)
		}
	}
}

// acknowledger is the part of amqp.Delivery the consumer decides on.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type settle int

const (
	settleAck settle = iota
	settleRequeue
	settleDrop
)

// decide picks how a delivery is settled after a send attempt. A
// transient failure gets one more pass through the queue.
func decide(sendErr error, redelivered bool) settle {
	switch {
	case sendErr == nil:
		return settleAck
	case IsPermanent(sendErr) || redelivered:
		return settleDrop
	default:
		return settleRequeue
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, sender Sender, logger *zap.SugaredLogger) {
	var m Message
	var err error
	if err = json.Unmarshal(d.Body, &m); err != nil {
		err = Permanent(err)
	} else {
		err = sender.Send(ctx, m)
	}
	apply(d, decide(err, d.Redelivered), m.Tag, err, logger)
}

func apply(a acknowledger, s settle, tag string, err error, logger *zap.SugaredLogger) {
	switch s {
	case settleAck:
		a.Ack(false)
	case settleRequeue:
		logger.Warnw("email delivery failed; requeueing", "tag", tag, "error", err)
		a.Nack(false, true)
	default:
		logger.Errorw("email delivery failed; dropping", "tag", tag, "error", err)
		a.Nack(false, false)
	}
}
