package blocks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Registry implements ports.BlockRegistry with an in-memory map keyed by block type.
type Registry struct {
	mu     sync.RWMutex
	blocks map[string]ports.Block
}

// NewRegistry creates an empty block registry.
func NewRegistry() *Registry {
	return &Registry{blocks: make(map[string]ports.Block)}
}

// Register stores a block implementation keyed by its metadata type.
func (r *Registry) Register(b ports.Block) error {
	if b == nil {
		return fmt.Errorf("block is nil")
	}
	meta := b.Metadata()
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("block metadata invalid: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.blocks[meta.Type]; exists {
		return agent.NewError(agent.ErrCodeDuplicate, "block type already registered", nil, map[string]interface{}{
			"block_type": meta.Type,
		})
	}
	r.blocks[meta.Type] = b
	return nil
}

// RegisterFactory registers a block using a factory function that produces the
// implementation. The provided blockType must match the constructed block's
// Metadata().Type.
func (r *Registry) RegisterFactory(blockType string, factory func() (ports.Block, error)) error {
	if blockType == "" {
		return fmt.Errorf("block type is required")
	}
	if factory == nil {
		return fmt.Errorf("block factory is nil for type %q", blockType)
	}

	b, err := factory()
	if err != nil {
		return fmt.Errorf("construct block %q: %w", blockType, err)
	}
	if b == nil {
		return fmt.Errorf("block factory returned nil for type %q", blockType)
	}
	if got := b.Metadata().Type; got != blockType {
		return fmt.Errorf("block metadata type %q does not match registration type %q", got, blockType)
	}

	return r.Register(b)
}

// Get returns the block that handles the provided type.
func (r *Registry) Get(blockType string) (ports.Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.blocks[blockType]
	if !ok {
		return nil, agent.NewError(agent.ErrCodeUnknownBlock, "block type not registered", nil, map[string]interface{}{
			"block_type": blockType,
		})
	}
	return b, nil
}

// List returns all registered blocks ordered by type.
func (r *Registry) List() []ports.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.blocks))
	for t := range r.blocks {
		types = append(types, t)
	}
	sort.Strings(types)

	result := make([]ports.Block, 0, len(types))
	for _, t := range types {
		result = append(result, r.blocks[t])
	}
	return result
}

var _ ports.BlockRegistry = (*Registry)(nil)
