package printblock

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Type is the block type name.
const Type = "print"

type block struct {
	out io.Writer
}

// New returns a block that writes its string input to w and forwards it on
// "output", upper-cased when the capitalise input is true. A nil writer
// discards the printed line.
func New(w io.Writer) ports.Block {
	if w == nil {
		w = io.Discard
	}
	return &block{out: w}
}

func (b *block) Metadata() agent.BlockMetadata {
	return agent.BlockMetadata{
		Type:        Type,
		Name:        "Print",
		Description: "Prints a string and forwards it.",
		Version:     "1.0.0",
		InputSchema: agent.Schema{
			{Name: "value", Description: "Input value for the print block", Type: agent.TypeString, Required: true},
			{Name: "capitalise", Description: "Whether to capitalise the output", Type: agent.TypeBoolean, Default: false},
		},
		OutputSchema: agent.Schema{
			{Name: "output", Description: "Output value for the print block", Type: agent.TypeString},
		},
	}
}

func (b *block) Invoke(ctx context.Context, inv agent.Invocation) (agent.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := inv.Inputs["value"].(string)
	if !ok {
		return nil, agent.NewBlockError("InvalidInput", "value must be a string")
	}
	if inv.Bool("capitalise") {
		value = strings.ToUpper(value)
	}
	if _, err := fmt.Fprintln(b.out, value); err != nil {
		return nil, agent.NewRetryableBlockError("WriteFailed", "print output failed", err)
	}
	return agent.Outputs{"output": value}, nil
}
