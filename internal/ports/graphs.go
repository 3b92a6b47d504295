package ports

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// GraphStore holds immutable, versioned graph definitions. A stored version
// is never mutated: Put with different content for an existing (id, version)
// returns ErrCodeConflict, and Put without a version assigns latest+1.
// Implementations validate graphs on Put so a stored graph is always free of
// definition errors.
type GraphStore interface {
	Put(ctx context.Context, graph *agent.Graph) (agent.Ref, error)
	Get(ctx context.Context, ref agent.Ref) (*agent.Graph, error)
	Latest(ctx context.Context, graphID string) (*agent.Graph, error)
	Versions(ctx context.Context, graphID string) ([]int, error)
}
