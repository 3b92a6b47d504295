package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

func TestRedisPublisherRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	publisher := NewRedisPublisher(client, nil)

	received := make(chan agent.LiveEvent, 4)
	sub, err := publisher.Subscribe(agent.TopicFor("e1"), func(_ context.Context, e ports.DomainEvent) error {
		received <- e.(agent.LiveEvent)
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	event := agent.LiveEvent{
		ExecutionID:   "e1",
		NodeID:        "a",
		Generation:    1,
		Status:        agent.StatusCompleted,
		Timestamp:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		OutputSummary: map[string]string{"out": "5"},
	}
	require.NoError(t, publisher.Publish(context.Background(), event))

	select {
	case got := <-received:
		require.Equal(t, "a", got.NodeID)
		require.Equal(t, agent.StatusCompleted, got.Status)
		require.Equal(t, "5", got.OutputSummary["out"])
		require.True(t, event.Timestamp.Equal(got.Timestamp))
	case <-time.After(5 * time.Second):
		t.Fatal("live event not delivered")
	}
}

func TestRedisPublisherWildcardSubscription(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	publisher := NewRedisPublisher(client, nil)

	received := make(chan string, 4)
	sub, err := publisher.Subscribe(ports.AllEvents, func(_ context.Context, e ports.DomainEvent) error {
		received <- e.(agent.LiveEvent).ExecutionID
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, publisher.Publish(context.Background(), agent.LiveEvent{ExecutionID: "e7", Status: agent.StatusRunning}))

	select {
	case id := <-received:
		require.Equal(t, "e7", id)
	case <-time.After(5 * time.Second):
		t.Fatal("live event not delivered")
	}
}
