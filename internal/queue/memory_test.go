package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueSendReceiveDelete(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx := t.Context()

	id, err := q.Send(ctx, []byte("one"), map[string]string{AttrEventType: "analytics"})
	require.NoError(t, err)
	_, err = q.Send(ctx, []byte("two"), nil)
	require.NoError(t, err)

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "analytics", msgs[0].Attributes[AttrEventType])
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Depth: 0, InFlight: 2}, stats)

	require.NoError(t, q.Delete(ctx, msgs[0].Receipt))
	require.ErrorIs(t, q.Delete(ctx, msgs[0].Receipt), ErrUnknownReceipt)
	assert.Equal(t, 1, q.Len())
}

func TestMemoryQueueRespectsBatchLimit(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	for range 5 {
		_, err := q.Send(t.Context(), []byte("x"), nil)
		require.NoError(t, err)
	}
	msgs, err := q.Receive(t.Context(), 3, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestMemoryQueueRedeliversAfterVisibilityTimeout(t *testing.T) {
	q := NewMemoryQueue(20 * time.Millisecond)
	ctx := t.Context()
	_, err := q.Send(ctx, []byte("x"), nil)
	require.NoError(t, err)

	first, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := q.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].ReceiveCount)
	assert.NotEqual(t, first[0].Receipt, second[0].Receipt)

	require.ErrorIs(t, q.Delete(ctx, first[0].Receipt), ErrUnknownReceipt, "stale receipt")
	require.NoError(t, q.Delete(ctx, second[0].Receipt))
}

func TestMemoryQueueLongPollWakesOnSend(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Send(context.Background(), []byte("late"), nil)
	}()

	start := time.Now()
	msgs, err := q.Receive(t.Context(), 1, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMemoryQueueWaitElapses(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	msgs, err := q.Receive(t.Context(), 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := q.Receive(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
