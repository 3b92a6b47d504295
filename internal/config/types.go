package config

import (
	"strings"
)

// Document is one graph definition file.
type Document struct {
	ID          string    `yaml:"id" validate:"required,node_id"`
	Version     int       `yaml:"version,omitempty" validate:"omitempty,min=1"`
	Name        string    `yaml:"name,omitempty" validate:"omitempty,max=100"`
	Description string    `yaml:"description,omitempty"`
	CreatedBy   string    `yaml:"created_by,omitempty"`
	Parent      *Parent   `yaml:"parent,omitempty"`
	Nodes       []NodeDoc `yaml:"nodes" validate:"required,min=1,dive"`
	Links       []LinkDoc `yaml:"links,omitempty" validate:"omitempty,dive"`
}

// Parent names the graph version a document was derived from.
type Parent struct {
	ID      string `yaml:"id" validate:"required,node_id"`
	Version int    `yaml:"version" validate:"required,min=1"`
}

// NodeDoc declares a node, its block type and its optional port schemas.
// Input holds constant values fed to unlinked input ports.
type NodeDoc struct {
	ID       string                 `yaml:"id" validate:"required,node_id"`
	Block    string                 `yaml:"block" validate:"required,block_type"`
	Input    map[string]interface{} `yaml:"input,omitempty"`
	Inputs   []PortDoc              `yaml:"inputs,omitempty" validate:"omitempty,dive"`
	Outputs  []PortDoc              `yaml:"outputs,omitempty" validate:"omitempty,dive"`
	Metadata map[string]interface{} `yaml:"metadata,omitempty"`
}

// PortDoc declares one typed port.
type PortDoc struct {
	Name        string      `yaml:"name" validate:"required,port_name"`
	Type        string      `yaml:"type,omitempty" validate:"omitempty,port_type"`
	Required    bool        `yaml:"required,omitempty"`
	Default     interface{} `yaml:"default,omitempty"`
	Description string      `yaml:"description,omitempty"`
}

// LinkDoc wires an output port to an input port, both written as node.port.
type LinkDoc struct {
	From   string `yaml:"from" validate:"required,port_ref"`
	To     string `yaml:"to" validate:"required,port_ref"`
	Static bool   `yaml:"static,omitempty"`
}

// SplitRef splits a node.port reference. ok is false when either half is empty.
func SplitRef(ref string) (node, port string, ok bool) {
	node, port, found := strings.Cut(ref, ".")
	if !found || node == "" || port == "" {
		return "", "", false
	}
	return node, port, true
}
