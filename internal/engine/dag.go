package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// CompiledNode is a node bound to its block with link routing precomputed.
type CompiledNode struct {
	agent.Node
	Block ports.Block
	Index int

	Inbound  []agent.Link
	Outbound []agent.Link

	// DynamicPorts are sink ports fed by a non-static link; all of them must
	// receive a value before the node's first dispatch.
	DynamicPorts []string
	// StaticPorts are sink ports fed only by static links.
	StaticPorts map[string]bool
	// ErrorPath is true when the node's error port is linked.
	ErrorPath bool
	// CheckSchema is the input schema used for validation at dispatch time.
	// Static-only ports are optional there.
	CheckSchema agent.Schema
}

// Linked reports whether any link feeds the port.
func (n *CompiledNode) Linked(port string) bool {
	if n.StaticPorts[port] {
		return true
	}
	for _, p := range n.DynamicPorts {
		if p == port {
			return true
		}
	}
	return false
}

// IsEntry reports whether the node has no non-static inbound link.
func (n *CompiledNode) IsEntry() bool {
	return len(n.DynamicPorts) == 0
}

// CompiledGraph is a validated graph with every block resolved.
type CompiledGraph struct {
	Graph  *agent.Graph
	Nodes  map[string]*CompiledNode
	Levels [][]string
	Order  []string
}

// Node returns the compiled node with the given id.
func (g *CompiledGraph) Node(id string) (*CompiledNode, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Compile validates graph against the registry and precomputes routing.
// Every returned error is a definition error, so an execution is never
// created for a graph that fails to compile.
func Compile(graph *agent.Graph, registry ports.BlockRegistry) (*CompiledGraph, error) {
	if graph == nil {
		return nil, agent.NewError(agent.ErrCodeValidation, "graph is nil", nil, nil)
	}
	if registry == nil {
		return nil, agent.NewError(agent.ErrCodeInternal, "block registry is nil", nil, nil)
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	resolved := graph.Clone()
	blocks := make(map[string]ports.Block, len(resolved.Nodes))
	for i := range resolved.Nodes {
		node := &resolved.Nodes[i]
		block, err := registry.Get(node.BlockType)
		if err != nil {
			return nil, agent.NewError(agent.ErrCodeUnknownBlock, "block type is not registered", err, map[string]interface{}{
				"node_id":    node.ID,
				"block_type": node.BlockType,
			})
		}
		meta := block.Metadata()
		if len(node.InputSchema) == 0 {
			node.InputSchema = append(agent.Schema(nil), meta.InputSchema...)
		}
		if len(node.OutputSchema) == 0 {
			node.OutputSchema = append(agent.Schema(nil), meta.OutputSchema...)
		}
		if err := checkConstants(node); err != nil {
			return nil, err
		}
		blocks[node.ID] = block
	}
	// Link ports are re-checked now that block schemas are known.
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	compiled := &CompiledGraph{Graph: resolved, Nodes: make(map[string]*CompiledNode, len(resolved.Nodes))}
	for i, node := range resolved.Nodes {
		cn := &CompiledNode{
			Node:        node,
			Block:       blocks[node.ID],
			Index:       i,
			Inbound:     resolved.Inbound(node.ID),
			Outbound:    resolved.Outbound(node.ID),
			StaticPorts: make(map[string]bool),
			ErrorPath:   resolved.HasErrorPath(node.ID),
		}
		dynamic := make(map[string]bool)
		for _, link := range cn.Inbound {
			if link.IsStatic {
				cn.StaticPorts[link.SinkPort] = true
			} else {
				dynamic[link.SinkPort] = true
			}
		}
		for port := range dynamic {
			cn.DynamicPorts = append(cn.DynamicPorts, port)
		}
		sort.Strings(cn.DynamicPorts)

		cn.CheckSchema = make(agent.Schema, len(node.InputSchema))
		for j, port := range node.InputSchema {
			if cn.StaticPorts[port.Name] {
				port.Required = false
			}
			cn.CheckSchema[j] = port
		}
		compiled.Nodes[node.ID] = cn
	}

	if err := compiled.sortLevels(); err != nil {
		return nil, err
	}
	return compiled, nil
}

func checkConstants(node *agent.Node) error {
	if len(node.InputSchema) == 0 {
		return nil
	}
	for name, value := range node.ConstantInput {
		port, ok := node.InputSchema.Port(name)
		if !ok {
			return agent.NewError(agent.ErrCodeUnknownPort, "constant input targets an undeclared port", nil, map[string]interface{}{
				"node_id": node.ID,
				"port":    name,
			})
		}
		if !port.Type.Accepts(value) {
			return agent.NewError(agent.ErrCodeType, "constant input has the wrong type", nil, map[string]interface{}{
				"node_id":  node.ID,
				"port":     name,
				"expected": string(port.Type),
				"actual":   fmt.Sprintf("%T", value),
			})
		}
	}
	return nil
}

// sortLevels computes Kahn levels over non-static links. Ties inside a level
// keep declaration order.
func (g *CompiledGraph) sortLevels() error {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}
	for _, link := range g.Graph.Links {
		if !link.IsStatic {
			indegree[link.SinkNodeID]++
		}
	}

	var queue []string
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	var levels [][]string
	for len(queue) > 0 {
		current := queue
		g.byIndex(current)
		levels = append(levels, append([]string(nil), current...))

		var next []string
		for _, id := range current {
			processed++
			for _, link := range g.Nodes[id].Outbound {
				if link.IsStatic {
					continue
				}
				indegree[link.SinkNodeID]--
				if indegree[link.SinkNodeID] == 0 {
					next = append(next, link.SinkNodeID)
				}
			}
		}
		queue = next
	}

	if processed != len(g.Nodes) {
		return agent.NewError(agent.ErrCodeCycle, "cycle detected while sorting graph", nil, map[string]interface{}{
			"graph_id": g.Graph.ID,
		})
	}

	g.Levels = levels
	g.Order = nil
	for _, level := range levels {
		g.Order = append(g.Order, level...)
	}
	return nil
}

func (g *CompiledGraph) byIndex(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.Nodes[ids[i]].Index < g.Nodes[ids[j]].Index
	})
}

// ResolveInput maps execution input onto nodes. A "<node>.<port>" key targets
// one node; a bare "<port>" key targets that port on every entry node that can
// accept it, unless a scoped key names the same port. Linked ports cannot be
// fed from execution input.
func (g *CompiledGraph) ResolveInput(input map[string]agent.Value) (map[string]map[string]agent.Value, error) {
	resolved := make(map[string]map[string]agent.Value)
	set := func(nodeID, port string, value agent.Value) {
		if resolved[nodeID] == nil {
			resolved[nodeID] = make(map[string]agent.Value)
		}
		resolved[nodeID][port] = value
	}

	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	// Bare keys first so a scoped key for the same port wins.
	sort.Slice(keys, func(i, j int) bool {
		si, sj := strings.Contains(keys[i], "."), strings.Contains(keys[j], ".")
		if si != sj {
			return sj
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		value := input[key]
		if nodeID, port, scoped := strings.Cut(key, "."); scoped {
			node, ok := g.Nodes[nodeID]
			if !ok {
				return nil, agent.NewError(agent.ErrCodeUnknownNode, "execution input targets an unknown node", nil, map[string]interface{}{
					"key": key,
				})
			}
			if err := node.acceptsInput(port, value); err != nil {
				return nil, err
			}
			set(nodeID, port, value)
			continue
		}

		matched := false
		for _, id := range g.Order {
			node := g.Nodes[id]
			if !node.IsEntry() || node.Linked(key) {
				continue
			}
			if len(node.InputSchema) > 0 && !node.InputSchema.Has(key) {
				continue
			}
			if err := node.acceptsInput(key, value); err != nil {
				return nil, err
			}
			set(id, key, value)
			matched = true
		}
		if !matched {
			return nil, agent.NewError(agent.ErrCodeUnknownPort, "execution input matches no entry node port", nil, map[string]interface{}{
				"key": key,
			})
		}
	}
	return resolved, nil
}

func (n *CompiledNode) acceptsInput(port string, value agent.Value) error {
	if n.Linked(port) {
		return agent.NewError(agent.ErrCodeValidation, "execution input targets a linked port", nil, map[string]interface{}{
			"node_id": n.ID,
			"port":    port,
		})
	}
	if len(n.InputSchema) == 0 {
		return nil
	}
	schema, ok := n.InputSchema.Port(port)
	if !ok {
		return agent.NewError(agent.ErrCodeUnknownPort, "execution input targets an undeclared port", nil, map[string]interface{}{
			"node_id": n.ID,
			"port":    port,
		})
	}
	if !schema.Type.Accepts(value) {
		return agent.NewError(agent.ErrCodeType, "execution input has the wrong type", nil, map[string]interface{}{
			"node_id":  n.ID,
			"port":     port,
			"expected": string(schema.Type),
			"actual":   fmt.Sprintf("%T", value),
		})
	}
	return nil
}

// CheckInputs rejects execution input that leaves a required, unlinked port
// without a value.
func (g *CompiledGraph) CheckInputs(resolved map[string]map[string]agent.Value) error {
	for _, id := range g.Order {
		node := g.Nodes[id]
		var missing []string
		for _, port := range node.InputSchema {
			if !port.Required || port.HasDefault() || node.Linked(port.Name) {
				continue
			}
			if _, ok := node.ConstantInput[port.Name]; ok {
				continue
			}
			if _, ok := resolved[id][port.Name]; ok {
				continue
			}
			missing = append(missing, port.Name)
		}
		if len(missing) > 0 {
			return agent.NewError(agent.ErrCodeMissingInput, "required input has no link, constant, default or execution input", nil, map[string]interface{}{
				"node_id": id,
				"ports":   missing,
			})
		}
	}
	return nil
}

// BaseInputs returns the unlinked input values of a node: constants
// overridden by execution input.
func (g *CompiledGraph) BaseInputs(nodeID string, resolved map[string]map[string]agent.Value) map[string]agent.Value {
	node := g.Nodes[nodeID]
	base := make(map[string]agent.Value, len(node.ConstantInput)+len(resolved[nodeID]))
	for k, v := range node.ConstantInput {
		base[k] = v
	}
	for k, v := range resolved[nodeID] {
		base[k] = v
	}
	return base
}
