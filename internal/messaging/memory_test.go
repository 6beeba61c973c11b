package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datafactory/pkg/models"
)

func receiveOne(t *testing.T, q *InMemoryQueue, timeout time.Duration) Delivery {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var got Delivery
	q.Receive(ctx, 1)(func(d Delivery, err error) bool {
		require.NoError(t, err)
		got = d
		return false
	})
	return got
}

func TestEnqueueReceiveAck(t *testing.T) {
	q := NewInMemoryQueue(time.Minute, 3)

	msg := models.TaskMessage{Type: "maze", StartIndex: 0, NumSamples: 4}
	require.NoError(t, q.Enqueue(context.Background(), msg))
	assert.Equal(t, 1, q.Depth())

	d := receiveOne(t, q, time.Second)
	require.NotNil(t, d)
	assert.Equal(t, msg, d.Message())
	assert.Equal(t, 1, d.ReceiveCount())

	require.NoError(t, d.Ack())
	assert.Equal(t, 0, q.Depth())

	// Nothing left to deliver.
	assert.Nil(t, receiveOne(t, q, 100*time.Millisecond))
}

func TestReceivedMessageIsInvisible(t *testing.T) {
	q := NewInMemoryQueue(time.Minute, 3)
	require.NoError(t, q.Enqueue(context.Background(), models.TaskMessage{Type: "maze", NumSamples: 1}))

	d := receiveOne(t, q, time.Second)
	require.NotNil(t, d)

	// Still unacked, but hidden for the visibility timeout.
	assert.Nil(t, receiveOne(t, q, 100*time.Millisecond))
	assert.Equal(t, 1, q.Depth())
}

func TestVisibilityTimeoutRedelivery(t *testing.T) {
	q := NewInMemoryQueue(50*time.Millisecond, 3)
	require.NoError(t, q.Enqueue(context.Background(), models.TaskMessage{Type: "maze", NumSamples: 1}))

	d := receiveOne(t, q, time.Second)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.ReceiveCount())

	// No ack: after the visibility deadline the message comes back
	// with an incremented receive count.
	redelivered := receiveOne(t, q, time.Second)
	require.NotNil(t, redelivered)
	assert.Equal(t, d.Message(), redelivered.Message())
	assert.Equal(t, 2, redelivered.ReceiveCount())
}

func TestRedriveThreshold(t *testing.T) {
	const maxReceiveCount = 3

	q := NewInMemoryQueue(time.Minute, maxReceiveCount)
	msg := models.TaskMessage{Type: "maze", StartIndex: 8, NumSamples: 2}
	require.NoError(t, q.Enqueue(context.Background(), msg))

	// Fail exactly maxReceiveCount times.
	for i := 1; i <= maxReceiveCount; i++ {
		d := receiveOne(t, q, time.Second)
		require.NotNil(t, d, "receive %d", i)
		assert.Equal(t, i, d.ReceiveCount())
		require.NoError(t, d.Retry())
	}

	// The next receive attempt dead-letters the message instead of
	// delivering it again.
	assert.Nil(t, receiveOne(t, q, 100*time.Millisecond))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, msg, dead[0].Message)
	assert.Equal(t, maxReceiveCount, dead[0].ReceiveCount)
	assert.Equal(t, "delivery exhausted", dead[0].Reason)
	assert.Equal(t, 0, q.Depth())
}

func TestRejectDeadLettersImmediately(t *testing.T) {
	q := NewInMemoryQueue(time.Minute, 3)
	msg := models.TaskMessage{Type: "unregistered", NumSamples: 1}
	require.NoError(t, q.Enqueue(context.Background(), msg))

	d := receiveOne(t, q, time.Second)
	require.NotNil(t, d)
	require.NoError(t, d.Reject())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, msg, dead[0].Message)
	assert.Equal(t, 1, dead[0].ReceiveCount)
	assert.Equal(t, "rejected", dead[0].Reason)

	// Never redelivered.
	assert.Nil(t, receiveOne(t, q, 100*time.Millisecond))
}

func TestReceiveMultiple(t *testing.T) {
	q := NewInMemoryQueue(time.Minute, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), models.TaskMessage{Type: "maze", StartIndex: i * 4, NumSamples: 4}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []models.TaskMessage
	q.Receive(ctx, 2)(func(d Delivery, err error) bool {
		require.NoError(t, err)
		got = append(got, d.Message())
		return true
	})

	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].StartIndex)
	assert.Equal(t, 4, got[1].StartIndex)
}
