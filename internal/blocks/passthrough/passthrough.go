package passthroughblock

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Type is the block type name.
const Type = "passthrough"

type block struct{}

// New returns a block that forwards its "in" port to its "out" port unchanged.
func New() ports.Block {
	return &block{}
}

func (b *block) Metadata() agent.BlockMetadata {
	return agent.BlockMetadata{
		Type:        Type,
		Name:        "Passthrough",
		Description: "Forwards the input value unchanged.",
		Version:     "1.0.0",
		InputSchema: agent.Schema{
			{Name: "in", Description: "Value to forward", Type: agent.TypeAny, Required: true},
		},
		OutputSchema: agent.Schema{
			{Name: "out", Description: "The forwarded value", Type: agent.TypeAny},
		},
	}
}

func (b *block) Invoke(ctx context.Context, inv agent.Invocation) (agent.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, _ := inv.Input("in")
	return agent.Outputs{"out": value}, nil
}
