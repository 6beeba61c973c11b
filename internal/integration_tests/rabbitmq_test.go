//go:build integration
// +build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datafactory/internal/messaging"
	"datafactory/pkg/models"
)

func receiveOne(t *testing.T, q messaging.TaskQueue, timeout time.Duration) messaging.Delivery {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var got messaging.Delivery
	q.Receive(ctx, 1)(func(d messaging.Delivery, err error) bool {
		require.NoError(t, err)
		got = d
		return false
	})
	return got
}

func TestRabbitMQEnqueueReceiveAck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	amqpURL := setupRabbitMQContainer(t, ctx)

	queue, err := messaging.NewRabbitMQQueue(amqpURL, "generation_tasks", "generation_tasks_dlq", 3)
	require.NoError(t, err)
	defer queue.Close()

	msg := models.TaskMessage{Type: "maze", StartIndex: 8, NumSamples: 2}
	require.NoError(t, queue.Enqueue(ctx, msg))

	d := receiveOne(t, queue, 10*time.Second)
	require.NotNil(t, d)
	assert.Equal(t, msg, d.Message())
	assert.Equal(t, 1, d.ReceiveCount())
	require.NoError(t, d.Ack())

	// Acked messages are gone for good.
	assert.Nil(t, receiveOne(t, queue, 2*time.Second))
}

func TestRabbitMQRetryIncrementsReceiveCount(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	amqpURL := setupRabbitMQContainer(t, ctx)

	queue, err := messaging.NewRabbitMQQueue(amqpURL, "generation_tasks", "generation_tasks_dlq", 3)
	require.NoError(t, err)
	defer queue.Close()

	require.NoError(t, queue.Enqueue(ctx, models.TaskMessage{Type: "arith", NumSamples: 1}))

	d := receiveOne(t, queue, 10*time.Second)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.ReceiveCount())
	require.NoError(t, d.Retry())

	d = receiveOne(t, queue, 10*time.Second)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.ReceiveCount())
	require.NoError(t, d.Ack())
}

func TestRabbitMQRedriveThreshold(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	amqpURL := setupRabbitMQContainer(t, ctx)

	queue, err := messaging.NewRabbitMQQueue(amqpURL, "generation_tasks", "generation_tasks_dlq", 3)
	require.NoError(t, err)
	defer queue.Close()

	require.NoError(t, queue.Enqueue(ctx, models.TaskMessage{Type: "maze", NumSamples: 1}))

	// Fail the message exactly maxReceiveCount times.
	for attempt := 1; attempt <= 3; attempt++ {
		d := receiveOne(t, queue, 10*time.Second)
		require.NotNil(t, d, "attempt %d not delivered", attempt)
		assert.Equal(t, attempt, d.ReceiveCount())
		require.NoError(t, d.Retry())
	}

	// The broker must dead-letter it now instead of delivering a
	// fourth attempt.
	assert.Nil(t, receiveOne(t, queue, 2*time.Second))

	conn, err := amqp.Dial(amqpURL)
	require.NoError(t, err)
	defer conn.Close()
	channel, err := conn.Channel()
	require.NoError(t, err)

	dead, ok, err := channel.Get("generation_tasks_dlq", false)
	require.NoError(t, err)
	require.True(t, ok, "expected message on the dead letter queue")

	var msg models.TaskMessage
	require.NoError(t, json.Unmarshal(dead.Body, &msg))
	assert.Equal(t, "maze", msg.Type)
}

func TestRabbitMQRejectDoesNotRedeliver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	amqpURL := setupRabbitMQContainer(t, ctx)

	queue, err := messaging.NewRabbitMQQueue(amqpURL, "generation_tasks", "generation_tasks_dlq", 3)
	require.NoError(t, err)
	defer queue.Close()

	require.NoError(t, queue.Enqueue(ctx, models.TaskMessage{Type: "bogus", NumSamples: 1}))

	d := receiveOne(t, queue, 10*time.Second)
	require.NotNil(t, d)
	require.NoError(t, d.Reject())

	// Rejected messages route to the dead letter queue, not back here.
	assert.Nil(t, receiveOne(t, queue, 2*time.Second))
}
