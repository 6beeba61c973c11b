package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"datafactory/pkg/models"
)

const (
	DefaultVisibilityTimeout = 960 * time.Second
	DefaultMaxReceiveCount   = 3

	memoryPollInterval = 25 * time.Millisecond
)

// DeadLetter is an inert copy of a message that exhausted its retries
// or failed terminally. Inspection and replay are external concerns.
type DeadLetter struct {
	Message      models.TaskMessage
	ReceiveCount int
	Reason       string
}

type memoryEntry struct {
	msg          models.TaskMessage
	receiveCount int
	visibleAt    time.Time
	done         bool
}

// InMemoryQueue implements the full orchestrator contract without a
// broker: visibility timeouts, receive counting and dead-letter
// redirection. Used by cmd/local and unit tests.
type InMemoryQueue struct {
	mu      sync.Mutex
	entries []*memoryEntry
	dead    []DeadLetter

	visibilityTimeout time.Duration
	maxReceiveCount   int

	now func() time.Time
}

var _ TaskQueue = (*InMemoryQueue)(nil)

func NewInMemoryQueue(visibilityTimeout time.Duration, maxReceiveCount int) *InMemoryQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}
	if maxReceiveCount <= 0 {
		maxReceiveCount = DefaultMaxReceiveCount
	}
	return &InMemoryQueue{
		visibilityTimeout: visibilityTimeout,
		maxReceiveCount:   maxReceiveCount,
		now:               time.Now,
	}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, msg models.TaskMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, &memoryEntry{msg: msg, visibleAt: q.now()})
	return nil
}

// claim finds the next visible entry, applying the redrive policy:
// entries already received maxReceiveCount times are moved to the
// dead-letter slice instead of being delivered again.
func (q *InMemoryQueue) claim() *memoryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, e := range q.entries {
		if e.done || now.Before(e.visibleAt) {
			continue
		}
		if e.receiveCount >= q.maxReceiveCount {
			e.done = true
			q.dead = append(q.dead, DeadLetter{
				Message:      e.msg,
				ReceiveCount: e.receiveCount,
				Reason:       "delivery exhausted",
			})
			slog.Warn("message exceeded max receive count, moved to dead letter",
				"type", e.msg.Type, "start_index", e.msg.StartIndex, "receive_count", e.receiveCount)
			continue
		}
		e.receiveCount++
		e.visibleAt = now.Add(q.visibilityTimeout)
		return e
	}
	return nil
}

func (q *InMemoryQueue) Receive(ctx context.Context, max int) DeliveryIterator {
	return func(yield func(Delivery, error) bool) {
		for delivered := 0; delivered < max; {
			if e := q.claim(); e != nil {
				delivered++
				if !yield(&memoryDelivery{queue: q, entry: e}, nil) {
					return
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(memoryPollInterval):
			}
		}
	}
}

// Depth reports the number of messages not yet acked or dead-lettered.
// A job's completeness is only knowable by polling this to zero.
func (q *InMemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if !e.done {
			n++
		}
	}
	return n
}

func (q *InMemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *InMemoryQueue) Close() {}

type memoryDelivery struct {
	queue *InMemoryQueue
	entry *memoryEntry
}

func (d *memoryDelivery) Message() models.TaskMessage {
	return d.entry.msg
}

func (d *memoryDelivery) ReceiveCount() int {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	return d.entry.receiveCount
}

func (d *memoryDelivery) Ack() error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.entry.done = true
	return nil
}

func (d *memoryDelivery) Retry() error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	// Make the message immediately visible again; the redrive check
	// happens on the next claim.
	d.entry.visibleAt = d.queue.now()
	return nil
}

func (d *memoryDelivery) Reject() error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.entry.done = true
	d.queue.dead = append(d.queue.dead, DeadLetter{
		Message:      d.entry.msg,
		ReceiveCount: d.entry.receiveCount,
		Reason:       "rejected",
	})
	return nil
}
