package counterblock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

func TestCounterEmitsNextBelowLimit(t *testing.T) {
	t.Parallel()

	out, err := New().Invoke(context.Background(), agent.Invocation{Inputs: map[string]agent.Value{"value": 1, "step": 1, "limit": 3}})
	require.NoError(t, err)
	require.Equal(t, float64(2), out["next"])
	require.NotContains(t, out, "done")
}

func TestCounterEmitsDoneAtLimit(t *testing.T) {
	t.Parallel()

	out, err := New().Invoke(context.Background(), agent.Invocation{Inputs: map[string]agent.Value{"value": 2, "step": 1, "limit": 3}})
	require.NoError(t, err)
	require.Equal(t, float64(3), out["done"])
	require.NotContains(t, out, "next")
	require.Equal(t, float64(3), out["current"])
}

func TestCounterRejectsBadStep(t *testing.T) {
	t.Parallel()

	_, err := New().Invoke(context.Background(), agent.Invocation{Inputs: map[string]agent.Value{"step": -1, "limit": 3}})
	require.Error(t, err)
}
