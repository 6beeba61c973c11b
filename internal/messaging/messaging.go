package messaging

import (
	"context"
	"time"

	"datafactory/pkg/models"
)

const (
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

// Delivery is one received task together with its receipt state. The
// queue owns the delivery record (receive count, visibility deadline);
// a consumer only acknowledges or signals failure.
type Delivery interface {
	Message() models.TaskMessage

	// ReceiveCount reports how many times this message has been
	// delivered, including the current attempt.
	ReceiveCount() int

	// Ack permanently removes the message from the queue.
	Ack() error

	// Retry signals a transient failure. The message becomes eligible
	// for redelivery, subject to the redrive policy: once the receive
	// count exceeds the queue's ceiling it is dead-lettered instead.
	// A consumer that neither acks nor retries gets the same outcome
	// when the visibility timeout lapses.
	Retry() error

	// Reject signals a terminal failure. The message goes straight to
	// the dead-letter destination without further redelivery.
	Reject() error
}

// DeliveryIterator yields deliveries lazily. Each call to Receive
// produces a finite, non-restartable sequence.
type DeliveryIterator func(yield func(Delivery, error) bool)

type TaskQueue interface {
	Enqueue(ctx context.Context, msg models.TaskMessage) error

	// Receive yields up to max deliveries, blocking between messages
	// until one is available or ctx is done. Receiving a message
	// increments its receive count and hides it for the visibility
	// timeout.
	Receive(ctx context.Context, max int) DeliveryIterator

	Close()
}
