package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"datafactory/pkg/models"
)

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", MaxConnectRetry, err)
}

// RabbitMQQueue is the durable-queue implementation. The task queue is
// declared as a quorum queue with a delivery limit so the broker
// enforces the redrive policy: a message nacked with requeue past the
// limit, or rejected outright, is dead-lettered to the DLQ via the
// default exchange. The visibility-timeout role is played by AMQP
// unacked-delivery semantics: a consumer that dies without acking has
// its deliveries returned to the queue.
type RabbitMQQueue struct {
	connLock sync.RWMutex
	conn     *amqp.Connection
	channel  *amqp.Channel

	url             string
	queueName       string
	deadLetterQueue string
	maxReceiveCount int

	consumeOnce sync.Once
	consuming   atomic.Bool
	deliveries  chan amqp.Delivery
	stop        chan struct{}
	destructor  sync.Once
}

var _ TaskQueue = (*RabbitMQQueue)(nil)

func NewRabbitMQQueue(url, queueName, deadLetterQueue string, maxReceiveCount int) (*RabbitMQQueue, error) {
	if maxReceiveCount <= 0 {
		maxReceiveCount = DefaultMaxReceiveCount
	}
	q := &RabbitMQQueue{
		url:             url,
		queueName:       queueName,
		deadLetterQueue: deadLetterQueue,
		maxReceiveCount: maxReceiveCount,
		deliveries:      make(chan amqp.Delivery),
		stop:            make(chan struct{}),
	}
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) connect() error {
	conn, err := connectToRabbitMQ(q.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if _, err := channel.QueueDeclare(q.deadLetterQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare dead letter queue %s: %w", q.deadLetterQueue, err)
	}

	// The broker's delivery limit counts redeliveries, not total
	// deliveries: a message is dead-lettered once it has been returned
	// to the queue more than the limit. Limit maxReceiveCount-1 so the
	// last permitted attempt is delivery number maxReceiveCount.
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-delivery-limit":          int32(q.maxReceiveCount - 1),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.deadLetterQueue,
	}
	if _, err := channel.QueueDeclare(q.queueName, true, false, false, false, args); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq queue %s: %w", q.queueName, err)
	}

	q.connLock.Lock()
	q.conn = conn
	q.channel = channel
	q.connLock.Unlock()

	slog.Info("rabbitmq channel opened and queues declared", "queue", q.queueName, "dead_letter_queue", q.deadLetterQueue)

	go q.handleReconnect(channel)

	return nil
}

func (q *RabbitMQQueue) handleReconnect(channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error)
	channel.NotifyClose(notifyClose)

	select {
	case err, ok := <-notifyClose:
		if !ok { // channel is just closed on graceful close
			slog.Info("rabbitmq connection closed")
			return
		}

		slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

		for {
			if q.connect() == nil {
				q.restartConsumer()
				slog.Info("successfully reconnected to rabbitmq")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-q.stop:
		return
	}
}

func (q *RabbitMQQueue) Enqueue(ctx context.Context, msg models.TaskMessage) error {
	q.connLock.RLock()
	defer q.connLock.RUnlock()

	if q.channel == nil || q.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		"",          // exchange (default)
		q.queueName, // routing key (queue name)
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		slog.Error("failed to publish task, potential connection issue", "queue", q.queueName, "error", err)
		return fmt.Errorf("failed to publish task: %w", err)
	}

	return nil
}

func (q *RabbitMQQueue) startConsumer() error {
	q.connLock.RLock()
	channel := q.channel
	q.connLock.RUnlock()

	// QoS 1 so each worker goroutine holds at most one unacked task.
	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	msgs, err := channel.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", q.queueName, err)
	}

	go func() {
		for d := range msgs {
			select {
			case q.deliveries <- d:
			case <-q.stop:
				return
			}
		}
	}()

	return nil
}

// restartConsumer resumes consumption after a reconnect. It is a
// no-op in processes that never called Receive: starting a consumer
// there would let QoS 1 park a live task in an unread channel.
func (q *RabbitMQQueue) restartConsumer() {
	if !q.consuming.Load() {
		return
	}
	if err := q.startConsumer(); err != nil {
		slog.Error("failed to restart rabbitmq consumer", "error", err)
	}
}

func (q *RabbitMQQueue) Receive(ctx context.Context, max int) DeliveryIterator {
	q.consumeOnce.Do(func() {
		q.consuming.Store(true)
		if err := q.startConsumer(); err != nil {
			slog.Error("failed to start rabbitmq consumer", "error", err)
		}
	})

	return func(yield func(Delivery, error) bool) {
		for delivered := 0; delivered < max; delivered++ {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case d := <-q.deliveries:
				var msg models.TaskMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					// Malformed payloads cannot succeed on retry.
					if rejectErr := d.Nack(false, false); rejectErr != nil {
						slog.Error("failed to reject malformed message", "error", rejectErr)
					}
					if !yield(nil, fmt.Errorf("failed to unmarshal task message: %w", err)) {
						return
					}
					continue
				}
				if !yield(&rabbitDelivery{d: d, msg: msg}, nil) {
					return
				}
			}
		}
	}
}

func (q *RabbitMQQueue) Close() {
	q.destructor.Do(func() {
		close(q.stop)
		q.connLock.RLock()
		defer q.connLock.RUnlock()
		if q.conn != nil {
			if err := q.conn.Close(); err != nil {
				slog.Error("error closing rabbitmq connection", "error", err)
			}
		}
	})
}

type rabbitDelivery struct {
	d   amqp.Delivery
	msg models.TaskMessage
}

func (r *rabbitDelivery) Message() models.TaskMessage {
	return r.msg
}

func (r *rabbitDelivery) ReceiveCount() int {
	// Quorum queues stamp redeliveries with x-delivery-count, absent
	// on the first delivery.
	if v, ok := r.d.Headers["x-delivery-count"]; ok {
		switch n := v.(type) {
		case int32:
			return int(n) + 1
		case int64:
			return int(n) + 1
		}
	}
	return 1
}

func (r *rabbitDelivery) Ack() error {
	return r.d.Ack(false)
}

func (r *rabbitDelivery) Retry() error {
	// Requeue; the broker dead-letters once x-delivery-limit is hit.
	return r.d.Nack(false, true)
}

func (r *rabbitDelivery) Reject() error {
	// No requeue: routed to the DLQ by the dead-letter exchange.
	return r.d.Nack(false, false)
}
