package agent

import (
	"fmt"
	"sort"
	"time"
)

// Graph is one immutable version of an agent definition.
type Graph struct {
	ID            string
	Version       int
	Name          string
	Description   string
	CreatedBy     string
	ParentID      string
	ParentVersion int
	Nodes         []Node
	Links         []Link
}

// Node is a typed processing unit inside a graph.
type Node struct {
	ID            string
	BlockType     string
	ConstantInput map[string]Value
	InputSchema   Schema
	OutputSchema  Schema
	Metadata      map[string]Value
	// Timeout overrides the engine's per-invocation timeout when positive.
	Timeout time.Duration
}

// Link routes one output port to one input port.
type Link struct {
	SourceNodeID string
	SourcePort   string
	SinkNodeID   string
	SinkPort     string
	IsStatic     bool
}

// String renders the link as source.port->sink.port.
func (l Link) String() string {
	arrow := "->"
	if l.IsStatic {
		arrow = "~>"
	}
	return fmt.Sprintf("%s.%s%s%s.%s", l.SourceNodeID, l.SourcePort, arrow, l.SinkNodeID, l.SinkPort)
}

// Ref identifies a graph version.
type Ref struct {
	ID      string
	Version int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@v%d", r.ID, r.Version)
}

// Ref returns the identity of this graph version.
func (g *Graph) Ref() Ref {
	return Ref{ID: g.ID, Version: g.Version}
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Inbound returns every link whose sink is the given node.
func (g *Graph) Inbound(nodeID string) []Link {
	var links []Link
	for _, l := range g.Links {
		if l.SinkNodeID == nodeID {
			links = append(links, l)
		}
	}
	return links
}

// Outbound returns every link whose source is the given node.
func (g *Graph) Outbound(nodeID string) []Link {
	var links []Link
	for _, l := range g.Links {
		if l.SourceNodeID == nodeID {
			links = append(links, l)
		}
	}
	return links
}

// HasErrorPath reports whether the node routes its error port anywhere.
func (g *Graph) HasErrorPath(nodeID string) bool {
	for _, l := range g.Links {
		if l.SourceNodeID == nodeID && l.SourcePort == ErrorPort {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stored versions cannot be mutated by callers.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		n.ConstantInput = cloneValues(n.ConstantInput)
		n.Metadata = cloneValues(n.Metadata)
		n.InputSchema = append(Schema(nil), n.InputSchema...)
		n.OutputSchema = append(Schema(nil), n.OutputSchema...)
		clone.Nodes[i] = n
	}
	clone.Links = append([]Link(nil), g.Links...)
	return &clone
}

// Validate enforces the structural invariants of a graph definition. Every
// returned error is a definition error.
func (g *Graph) Validate() error {
	if g.ID == "" {
		return NewError(ErrCodeValidation, "graph id is required", nil, nil)
	}
	if len(g.Nodes) == 0 {
		return newValidationError("graph requires at least one node", map[string]interface{}{"graph_id": g.ID})
	}

	nodes := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == "" {
			return newValidationError("node id is required", map[string]interface{}{"index": i})
		}
		if _, dup := nodes[node.ID]; dup {
			return newDuplicateError(node.ID)
		}
		if node.BlockType == "" {
			return newValidationError("node block type is required", map[string]interface{}{"node_id": node.ID})
		}
		if err := node.InputSchema.validate(node.ID, "input"); err != nil {
			return err
		}
		if err := node.OutputSchema.validate(node.ID, "output"); err != nil {
			return err
		}
		if node.Timeout < 0 {
			return newValidationError("node timeout must not be negative", map[string]interface{}{"node_id": node.ID})
		}
		nodes[node.ID] = node
	}

	type sinkKind struct{ static, dynamic int }
	sinks := make(map[string]*sinkKind)
	for _, link := range g.Links {
		source, ok := nodes[link.SourceNodeID]
		if !ok {
			return NewError(ErrCodeUnknownNode, "link source node not found", nil, map[string]interface{}{
				"link": link.String(),
				"node": link.SourceNodeID,
			})
		}
		sink, ok := nodes[link.SinkNodeID]
		if !ok {
			return NewError(ErrCodeUnknownNode, "link sink node not found", nil, map[string]interface{}{
				"link": link.String(),
				"node": link.SinkNodeID,
			})
		}
		if link.SourcePort == "" || link.SinkPort == "" {
			return newValidationError("link ports are required", map[string]interface{}{"link": link.String()})
		}
		if len(source.OutputSchema) > 0 && link.SourcePort != ErrorPort && !source.OutputSchema.Has(link.SourcePort) {
			return NewError(ErrCodeUnknownPort, "link source port not declared", nil, map[string]interface{}{
				"link": link.String(),
				"port": link.SourcePort,
			})
		}
		if len(sink.InputSchema) > 0 && !sink.InputSchema.Has(link.SinkPort) {
			return NewError(ErrCodeUnknownPort, "link sink port not declared", nil, map[string]interface{}{
				"link": link.String(),
				"port": link.SinkPort,
			})
		}
		if _, ok := sink.ConstantInput[link.SinkPort]; ok {
			return newValidationError("port is fed by both a link and a constant", map[string]interface{}{
				"node_id": sink.ID,
				"port":    link.SinkPort,
			})
		}

		key := link.SinkNodeID + "." + link.SinkPort
		kind := sinks[key]
		if kind == nil {
			kind = &sinkKind{}
			sinks[key] = kind
		}
		if link.IsStatic {
			kind.static++
		} else {
			kind.dynamic++
		}
		if kind.dynamic > 1 {
			return NewError(ErrCodeDuplicateLink, "sink port fed by more than one non-static link", nil, map[string]interface{}{
				"port": key,
			})
		}
		if kind.dynamic > 0 && kind.static > 0 {
			return NewError(ErrCodeDuplicateLink, "sink port mixes static and non-static links", nil, map[string]interface{}{
				"port": key,
			})
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return newCycleError(cycle)
	}
	return nil
}

// findCycle returns a path through non-static links that closes a cycle, or
// nil when the non-static subgraph is acyclic.
func (g *Graph) findCycle() []string {
	adjacency := make(map[string][]string, len(g.Nodes))
	for _, link := range g.Links {
		if link.IsStatic {
			continue
		}
		adjacency[link.SourceNodeID] = append(adjacency[link.SourceNodeID], link.SinkNodeID)
	}

	visited := make(map[string]bool, len(g.Nodes))
	onStack := make(map[string]bool, len(g.Nodes))
	var path []string
	var cycle []string

	var visit func(string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, next := range adjacency[id] {
			if onStack[next] {
				for i, p := range path {
					if p == next {
						cycle = append(append([]string(nil), path[i:]...), next)
						break
					}
				}
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}
		onStack[id] = false
		path = path[:len(path)-1]
		return false
	}

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !visited[id] && visit(id) {
			return cycle
		}
	}
	return nil
}

func cloneValues(src map[string]Value) map[string]Value {
	if src == nil {
		return nil
	}
	clone := make(map[string]Value, len(src))
	for k, v := range src {
		clone[k] = v
	}
	return clone
}
