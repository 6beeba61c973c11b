package messaging

import (
	"testing"
)

// A reconnect in a publisher-only process must not start a consumer:
// with QoS 1 the broker would park a live task in the unread delivery
// channel, hiding it from every worker.
func TestRestartConsumerNoopBeforeFirstReceive(t *testing.T) {
	q := &RabbitMQQueue{}

	// No connection, no channel: this only returns cleanly if the
	// consumer restart is skipped entirely.
	q.restartConsumer()

	if q.consuming.Load() {
		t.Fatal("restartConsumer must not mark the queue as consuming")
	}
}
