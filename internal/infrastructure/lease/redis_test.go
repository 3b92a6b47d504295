package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

func newRedisManager(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), server
}

func TestRedisLeaseIsExclusive(t *testing.T) {
	m, server := newRedisManager(t)
	ctx := context.Background()

	held, err := m.Acquire(ctx, "exec-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, server.Exists(defaultKeyPrefix+"exec-1"))

	_, err = m.Acquire(ctx, "exec-1", "worker-b", time.Minute)
	require.True(t, agent.HasCode(err, agent.ErrCodeLeaseHeld), "got %v", err)

	_, err = m.Acquire(ctx, "exec-1", "worker-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	require.False(t, server.Exists(defaultKeyPrefix+"exec-1"))

	_, err = m.Acquire(ctx, "exec-1", "worker-b", time.Minute)
	require.NoError(t, err)
}

func TestRedisLeaseExpiry(t *testing.T) {
	m, server := newRedisManager(t)
	ctx := context.Background()

	held, err := m.Acquire(ctx, "exec-1", "worker-a", time.Second)
	require.NoError(t, err)
	require.NoError(t, held.Renew(ctx))

	server.FastForward(2 * time.Second)
	require.True(t, agent.HasCode(held.Renew(ctx), agent.ErrCodeLeaseLost))

	other, err := m.Acquire(ctx, "exec-1", "worker-b", time.Second)
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	require.True(t, server.Exists(defaultKeyPrefix+"exec-1"), "stale owner must not release")
	require.NoError(t, other.Release(ctx))
}

func TestDialRedisRejectsBadURL(t *testing.T) {
	_, err := DialRedis("not-a-url://")
	require.Error(t, err)
}
