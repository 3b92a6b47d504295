package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

func request(id string) agent.ExecutionRequest {
	return agent.ExecutionRequest{ExecutionID: id, GraphID: "g", GraphVersion: 1, Owner: "u"}
}

func TestMemoryQueueIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, request("e1")))
	require.NoError(t, q.Enqueue(ctx, request("e2")))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "e1", first.Request().ExecutionID)
	require.Equal(t, 1, first.Attempt())

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "e2", second.Request().ExecutionID)

	queued, inflight := q.Len()
	require.Equal(t, 0, queued)
	require.Equal(t, 2, inflight)

	require.NoError(t, first.Ack())
	require.NoError(t, second.Ack())
	require.Error(t, second.Ack(), "double settle")
}

func TestMemoryQueueRedeliversNacked(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, request("e1")))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack())

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "e1", again.Request().ExecutionID)
	require.Equal(t, 2, again.Attempt())
	require.NoError(t, again.Ack())
}

func TestMemoryQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	got := make(chan string, 1)
	go func() {
		d, err := q.Dequeue(context.Background())
		if err != nil {
			got <- err.Error()
			return
		}
		got <- d.Request().ExecutionID
		_ = d.Ack()
	}()

	require.NoError(t, q.Enqueue(context.Background(), request("late")))
	select {
	case id := <-got:
		require.Equal(t, "late", id)
	case <-time.After(5 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemoryQueueCloseAndCancel(t *testing.T) {
	t.Parallel()

	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), request("e1")))
	require.NoError(t, q.Close())
	require.True(t, errors.Is(q.Enqueue(context.Background(), request("e2")), ErrClosed))

	d, err := q.Dequeue(context.Background())
	require.NoError(t, err, "queued work is drained after close")
	require.NoError(t, d.Ack())

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
