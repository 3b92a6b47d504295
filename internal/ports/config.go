package ports

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// GraphLoader loads graph definitions from an external source such as the
// filesystem. Implementations must respect context cancellation and translate
// infrastructure failures into domain error codes:
//   - io/fs.ErrNotExist → ErrCodeNotFound
//   - schema or YAML parsing failures → ErrCodeValidation
//   - structural violations → the matching definition error code
//   - context cancellation → ErrCodeCancelled
type GraphLoader interface {
	// Load materialises a structurally valid graph from the provided location.
	Load(ctx context.Context, path string) (*agent.Graph, error)

	// Validate checks a location without returning the graph.
	Validate(ctx context.Context, path string) error
}
