package blocks

import (
	"io"

	commandblock "github.com/alexisbeaulieu97/graphrun/internal/blocks/command"
	counterblock "github.com/alexisbeaulieu97/graphrun/internal/blocks/counter"
	passthroughblock "github.com/alexisbeaulieu97/graphrun/internal/blocks/passthrough"
	printblock "github.com/alexisbeaulieu97/graphrun/internal/blocks/print"
	templateblock "github.com/alexisbeaulieu97/graphrun/internal/blocks/template"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// RegisterBuiltins adds every built-in block to registry. The print block
// writes to out.
func RegisterBuiltins(registry ports.BlockRegistry, out io.Writer) error {
	builtins := []ports.Block{
		passthroughblock.New(),
		printblock.New(out),
		templateblock.New(),
		counterblock.New(),
		commandblock.New(),
	}
	for _, b := range builtins {
		if err := registry.Register(b); err != nil {
			return err
		}
	}
	return nil
}
