package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

type recordingPublisher struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
	seen    []string
}

func (r *recordingPublisher) Publish(_ context.Context, event ports.DomainEvent) error {
	if r.started != nil {
		r.once.Do(func() { close(r.started) })
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, event.(agent.LiveEvent).NodeID)
	return nil
}

func (r *recordingPublisher) Subscribe(string, ports.EventHandler) (ports.Subscription, error) {
	return noopSubscription{}, nil
}

func (r *recordingPublisher) Seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestAsyncPublisherPreservesOrder(t *testing.T) {
	t.Parallel()

	next := &recordingPublisher{}
	publisher := NewAsyncPublisher(next, 16, nil)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, publisher.Publish(context.Background(), nodeEvent("e1", id, agent.StatusQueued)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, publisher.Close(ctx))

	require.Equal(t, []string{"a", "b", "c", "d"}, next.Seen())
	require.Zero(t, publisher.Dropped())
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	t.Parallel()

	next := &recordingPublisher{gate: make(chan struct{}), started: make(chan struct{})}
	publisher := NewAsyncPublisher(next, 1, nil)
	ctx := context.Background()

	// The first event is taken by the drain goroutine and blocks on the gate.
	require.NoError(t, publisher.Publish(ctx, nodeEvent("e1", "a", agent.StatusQueued)))
	<-next.started

	// One fits in the queue, the rest are dropped without blocking.
	require.NoError(t, publisher.Publish(ctx, nodeEvent("e1", "b", agent.StatusQueued)))
	require.NoError(t, publisher.Publish(ctx, nodeEvent("e1", "c", agent.StatusQueued)))
	require.NoError(t, publisher.Publish(ctx, nodeEvent("e1", "d", agent.StatusQueued)))
	require.Equal(t, int64(2), publisher.Dropped())

	close(next.gate)
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, publisher.Close(closeCtx))
	require.Equal(t, []string{"a", "b"}, next.Seen())

	require.NoError(t, publisher.Publish(ctx, nodeEvent("e1", "e", agent.StatusQueued)))
	require.Equal(t, int64(3), publisher.Dropped())
}
