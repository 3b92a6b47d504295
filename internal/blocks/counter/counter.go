package counterblock

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Type is the block type name.
const Type = "counter"

type block struct{}

// New returns a loop helper. Each invocation computes value+step and emits it
// on "next" while it stays below limit, otherwise on "done". Wiring "next"
// back into "value" through a static link drives a bounded loop.
func New() ports.Block {
	return &block{}
}

func (b *block) Metadata() agent.BlockMetadata {
	return agent.BlockMetadata{
		Type:        Type,
		Name:        "Counter",
		Description: "Increments a value until it reaches a limit.",
		Version:     "1.0.0",
		InputSchema: agent.Schema{
			{Name: "value", Description: "Current value", Type: agent.TypeNumber, Default: 0},
			{Name: "step", Description: "Increment", Type: agent.TypeNumber, Default: 1},
			{Name: "limit", Description: "Exclusive upper bound", Type: agent.TypeNumber, Required: true},
		},
		OutputSchema: agent.Schema{
			{Name: "next", Description: "Incremented value, emitted while below limit", Type: agent.TypeNumber},
			{Name: "done", Description: "Final value, emitted once limit is reached", Type: agent.TypeNumber},
			{Name: "current", Description: "Incremented value, always emitted", Type: agent.TypeNumber},
		},
	}
}

func (b *block) Invoke(ctx context.Context, inv agent.Invocation) (agent.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, _ := inv.Float("value")
	step, ok := inv.Float("step")
	if !ok {
		step = 1
	}
	limit, ok := inv.Float("limit")
	if !ok {
		return nil, agent.NewBlockError("InvalidInput", "limit must be a number")
	}
	if step <= 0 {
		return nil, agent.NewBlockError("InvalidInput", "step must be positive")
	}

	next := value + step
	out := agent.Outputs{"current": next}
	if next < limit {
		out["next"] = next
	} else {
		out["done"] = next
	}
	return out, nil
}
