package engine

import (
	"fmt"
	"strings"
)

// Plan is the static dispatch order of a compiled graph grouped by level.
// Nodes in one level have no non-static dependency on each other.
type Plan struct {
	GraphID string
	Version int
	Levels  []PlanLevel
	Links   int
	Static  int
}

// PlanLevel lists the nodes of one topological level.
type PlanLevel struct {
	NodeIDs []string
}

// Plan describes the compiled graph for display.
func (g *CompiledGraph) Plan() *Plan {
	plan := &Plan{GraphID: g.Graph.ID, Version: g.Graph.Version, Links: len(g.Graph.Links)}
	for _, link := range g.Graph.Links {
		if link.IsStatic {
			plan.Static++
		}
	}
	for _, ids := range g.Levels {
		plan.Levels = append(plan.Levels, PlanLevel{NodeIDs: append([]string(nil), ids...)})
	}
	return plan
}

// NodeCount returns the number of planned nodes.
func (p *Plan) NodeCount() int {
	n := 0
	for _, level := range p.Levels {
		n += len(level.NodeIDs)
	}
	return n
}

// String renders a human readable summary of the plan.
func (p *Plan) String() string {
	if p == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Graph %s: %d nodes, %d links (%d static)\n", p.GraphID, p.NodeCount(), p.Links, p.Static)
	for i, level := range p.Levels {
		fmt.Fprintf(&b, "Level %d (%d nodes): %s\n", i, len(level.NodeIDs), strings.Join(level.NodeIDs, ", "))
	}
	return b.String()
}
