// Package rabbitmq implements the transport contract on RabbitMQ. Publishes
// go through a circuit breaker so a broker outage degrades to refusals the
// publisher worker treats as transient.
package rabbitmq

import (
	"context"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mrabbitmq"
	"github.com/CorventLabs/corvent/transport"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker/v2"
)

const (
	headerTypeID    = "X-Wire-Type"
	headerMessageID = "X-Message-Id"
)

// Transport is a rabbitmq implementation of the transport Publisher and
// Subscriber contracts.
type Transport struct {
	conn     *mrabbitmq.RabbitMQConnection
	breaker  *gobreaker.CircuitBreaker[any]
	prefetch int
}

// New returns a rabbitmq transport on the given connection hub.
func New(conn *mrabbitmq.RabbitMQConnection, prefetch int) *Transport {
	if prefetch <= 0 {
		prefetch = 16
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "rabbitmq-publish",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Transport{conn: conn, breaker: breaker, prefetch: prefetch}
}

// Publish hands one frame to the broker. An open breaker or a broker error
// surfaces as ErrTransportNotReady so the row stays retryable.
func (t *Transport) Publish(ctx context.Context, destination string, frame transport.Frame) error {
	logger := common.NewLoggerFromContext(ctx)

	_, err := t.breaker.Execute(func() (any, error) {
		ch, err := t.conn.GetChannel()
		if err != nil {
			return nil, err
		}

		return nil, ch.PublishWithContext(ctx,
			t.conn.Exchange,
			destination,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    frame.MessageID,
				Headers: amqp.Table{
					headerTypeID:    frame.TypeID,
					headerMessageID: frame.MessageID,
				},
				Body: frame.Body,
			})
	})
	if err != nil {
		logger.Warnf("rabbitmq publish refused for %s: %v", frame.MessageID, err)

		return common.InternalServerError{Message: "transport is not ready", Err: cn.ErrTransportNotReady}
	}

	return nil
}

// Subscribe declares the queue, binds it to the exchange under the
// destination key and consumes deliveries into the handler. A handler error
// nacks with requeue; the inbox dedup makes redelivery harmless.
func (t *Transport) Subscribe(ctx context.Context, destination, subscription string, handler transport.DeliveryHandler) error {
	logger := common.NewLoggerFromContext(ctx)

	ch, err := t.conn.GetChannel()
	if err != nil {
		return err
	}

	queueName := destination
	if subscription != "" {
		queueName = destination + "." + subscription
	}

	queue, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	if t.conn.Exchange != "" {
		if err := ch.QueueBind(queue.Name, destination, t.conn.Exchange, false, nil); err != nil {
			return err
		}
	}

	if err := ch.Qos(t.prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue.Name, subscription, false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logger.Warn("rabbitmq delivery channel closed")

					return
				}

				frame := transport.Frame{
					MessageID: d.MessageId,
					Body:      d.Body,
				}

				if typeID, ok := d.Headers[headerTypeID].(string); ok {
					frame.TypeID = typeID
				}

				if frame.MessageID == "" {
					if id, ok := d.Headers[headerMessageID].(string); ok {
						frame.MessageID = id
					}
				}

				if err := handler(ctx, frame); err != nil {
					logger.Errorf("delivery handler failed for %s: %v", frame.MessageID, err)

					_ = d.Nack(false, true)

					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

var (
	_ transport.Publisher  = (*Transport)(nil)
	_ transport.Subscriber = (*Transport)(nil)
)
