package ports

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// Block is the unit of node logic. The engine treats blocks as opaque:
//   - Metadata() documents the block type and its port schemas.
//   - Invoke() receives the merged input bundle and returns outputs for some
//     or all declared output ports.
//
// Implementations must honour ctx cancellation (the dispatcher enforces a
// per-invocation timeout through it) and report failures as *agent.BlockError
// when they want to control retryability. Any other error is treated as a
// non-retryable block failure.
type Block interface {
	Metadata() agent.BlockMetadata
	Invoke(ctx context.Context, inv agent.Invocation) (agent.Outputs, error)
}

// BlockRegistry resolves block implementations by block type. Registries must
// be safe for concurrent use because dispatches resolve blocks in parallel.
type BlockRegistry interface {
	Register(b Block) error
	Get(blockType string) (Block, error)
	List() []Block
}
