package templateblock

import (
	"bytes"
	"context"
	"text/template"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Type is the block type name.
const Type = "template"

type block struct{}

// New returns a block that renders a Go text/template. The template sees the
// "vars" object merged with every other input port, so values linked into the
// node are addressable by port name.
func New() ports.Block {
	return &block{}
}

func (b *block) Metadata() agent.BlockMetadata {
	return agent.BlockMetadata{
		Type:        Type,
		Name:        "Template",
		Description: "Renders Go templates with variable substitution.",
		Version:     "1.0.0",
		InputSchema: agent.Schema{
			{Name: "template", Description: "Template source", Type: agent.TypeString, Required: true},
			{Name: "vars", Description: "Template variables", Type: agent.TypeObject},
			{Name: "value", Description: "Linked value exposed as .value", Type: agent.TypeAny},
		},
		OutputSchema: agent.Schema{
			{Name: "text", Description: "Rendered output", Type: agent.TypeString},
		},
	}
}

func (b *block) Invoke(ctx context.Context, inv agent.Invocation) (agent.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source := inv.String("template")
	tmpl, err := template.New(inv.NodeID).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, &agent.BlockError{Kind: "InvalidTemplate", Message: "template does not parse", Cause: err}
	}

	data := make(map[string]interface{}, len(inv.Inputs))
	for name, value := range inv.Inputs {
		if name == "template" || name == "vars" {
			continue
		}
		data[name] = value
	}
	if vars, ok := inv.Inputs["vars"].(map[string]interface{}); ok {
		for k, v := range vars {
			data[k] = v
		}
	}

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, data); err != nil {
		return nil, &agent.BlockError{Kind: "RenderFailed", Message: "template rendering failed", Cause: err}
	}
	return agent.Outputs{"text": rendered.String()}, nil
}
