package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

func chain(id string) *agent.Graph {
	return &agent.Graph{
		ID: id,
		Nodes: []agent.Node{
			{ID: "a", BlockType: "passthrough"},
			{ID: "b", BlockType: "passthrough"},
		},
		Links: []agent.Link{{SourceNodeID: "a", SourcePort: "out", SinkNodeID: "b", SinkPort: "in"}},
	}
}

func TestPutAssignsVersions(t *testing.T) {
	t.Parallel()

	store, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, chain("demo"))
	require.NoError(t, err)
	require.Equal(t, agent.Ref{ID: "demo", Version: 1}, ref)

	next := chain("demo")
	next.Name = "second"
	ref, err = store.Put(ctx, next)
	require.NoError(t, err)
	require.Equal(t, 2, ref.Version)

	versions, err := store.Versions(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, versions)

	latest, err := store.Latest(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, "second", latest.Name)
	require.Equal(t, 2, latest.Version)
}

func TestPutIsAppendOnly(t *testing.T) {
	t.Parallel()

	store, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	g := chain("demo")
	g.Version = 3
	_, err = store.Put(ctx, g)
	require.NoError(t, err)

	same := chain("demo")
	same.Version = 3
	_, err = store.Put(ctx, same)
	require.NoError(t, err, "identical content is idempotent")

	changed := chain("demo")
	changed.Version = 3
	changed.Description = "edited"
	_, err = store.Put(ctx, changed)
	require.True(t, agent.HasCode(err, agent.ErrCodeConflict), "got %v", err)
}

func TestPutRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	store, err := New(nil)
	require.NoError(t, err)

	g := chain("demo")
	g.Links = append(g.Links, agent.Link{SourceNodeID: "b", SourcePort: "out", SinkNodeID: "a", SinkPort: "in"})
	_, err = store.Put(context.Background(), g)
	require.True(t, agent.HasCode(err, agent.ErrCodeCycle))

	_, err = store.Latest(context.Background(), "demo")
	require.True(t, agent.HasCode(err, agent.ErrCodeNotFound))
}

func TestGetReturnsCopies(t *testing.T) {
	t.Parallel()

	store, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, chain("demo"))
	require.NoError(t, err)

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	got.Nodes[0].BlockType = "mutated"

	again, err := store.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "passthrough", again.Nodes[0].BlockType)

	_, err = store.Get(ctx, agent.Ref{ID: "demo", Version: 9})
	require.True(t, agent.HasCode(err, agent.ErrCodeNotFound))
}
