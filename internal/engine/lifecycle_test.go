package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

type savedStates struct {
	statuses []agent.Status
	err      error
}

func (s *savedStates) save(_ context.Context, exec *agent.Execution) error {
	if s.err != nil {
		return s.err
	}
	s.statuses = append(s.statuses, exec.Status)
	return nil
}

func newTestLifecycle(status agent.Status) (*lifecycle, *savedStates) {
	clock := time.Unix(1_700_000_000, 0)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	saved := &savedStates{}
	exec := &agent.Execution{ID: "exec", Status: status}
	return newLifecycle(exec, now, saved.save), saved
}

func TestLifecycle_HappyPathPersistsEveryTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, saved := newTestLifecycle(agent.StatusIncomplete)

	require.NoError(t, l.queue(ctx))
	require.NoError(t, l.start(ctx))
	require.NoError(t, l.complete(ctx))

	require.Equal(t, []agent.Status{agent.StatusQueued, agent.StatusRunning, agent.StatusCompleted}, saved.statuses)
	require.Equal(t, agent.StatusCompleted, l.status())
	require.False(t, l.exec.StartedAt.IsZero())
	require.True(t, l.exec.EndedAt.After(l.exec.StartedAt))
	require.Equal(t, l.exec.EndedAt.Sub(l.exec.StartedAt), l.exec.Stats.Duration)
}

func TestLifecycle_QueueAndStartAreIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, saved := newTestLifecycle(agent.StatusRunning)

	require.NoError(t, l.queue(ctx))
	require.NoError(t, l.start(ctx))
	require.Empty(t, saved.statuses)
}

func TestLifecycle_FailBeforeStart(t *testing.T) {
	t.Parallel()

	for _, status := range []agent.Status{agent.StatusIncomplete, agent.StatusQueued} {
		l, saved := newTestLifecycle(status)
		require.NoError(t, l.fail(context.Background(), agent.ReasonCancelled, "cancelled"))
		require.Equal(t, []agent.Status{agent.StatusFailed}, saved.statuses)
		require.Equal(t, agent.ReasonCancelled, l.exec.FailureReason)
		require.Equal(t, "cancelled", l.exec.Error)
		require.True(t, l.exec.StartedAt.IsZero())
	}
}

func TestLifecycle_QueuedCanCompleteWithoutRunning(t *testing.T) {
	t.Parallel()

	l, _ := newTestLifecycle(agent.StatusQueued)
	require.NoError(t, l.complete(context.Background()))
	require.Equal(t, agent.StatusCompleted, l.status())
}

func TestLifecycle_RejectsTransitionsOutOfTerminalStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, saved := newTestLifecycle(agent.StatusCompleted)

	err := l.fail(ctx, agent.ReasonNodeFailed, "late failure")
	require.True(t, agent.HasCode(err, agent.ErrCodeState))
	require.Equal(t, agent.ReasonNone, l.exec.FailureReason)
	require.Empty(t, l.exec.Error)

	require.True(t, agent.HasCode(l.start(ctx), agent.ErrCodeState))
	require.True(t, agent.HasCode(l.complete(ctx), agent.ErrCodeState))
	require.Empty(t, saved.statuses)

	incomplete, _ := newTestLifecycle(agent.StatusIncomplete)
	require.True(t, agent.HasCode(incomplete.complete(ctx), agent.ErrCodeState))
}

func TestLifecycle_SaveFailureRevertsState(t *testing.T) {
	t.Parallel()

	l, saved := newTestLifecycle(agent.StatusQueued)
	saved.err = errors.New("disk full")

	err := l.start(context.Background())
	require.Error(t, err)
	require.Equal(t, agent.StatusQueued, l.status())
	require.True(t, l.exec.StartedAt.IsZero())

	err = l.fail(context.Background(), agent.ReasonCancelled, "nope")
	require.Error(t, err)
	require.Equal(t, agent.ReasonNone, l.exec.FailureReason)
}
