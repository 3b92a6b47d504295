package engine

import (
	"context"
	"sort"
	"time"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// NodeReport summarises the latest generation of one node.
type NodeReport struct {
	NodeID          string
	BlockType       string
	NodeExecutionID string
	Generation      int
	Generations     int
	Status          agent.Status
	ErrorKind       agent.ErrorCode
	Error           string
	// Handled is true when the failure was routed through the error port.
	Handled  bool
	Attempts int
	Duration time.Duration
	Inputs   map[string]agent.Value
	Outputs  agent.Outputs
}

// ExecutionReport is the ledger view of one execution.
type ExecutionReport struct {
	Execution *agent.Execution
	Nodes     []NodeReport
	Rows      []*agent.NodeExecution
}

// Node returns the report of one node.
func (r *ExecutionReport) Node(id string) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeReport{}, false
}

// Failed lists nodes whose latest generation failed.
func (r *ExecutionReport) Failed() []NodeReport {
	var out []NodeReport
	for _, n := range r.Nodes {
		if n.Status == agent.StatusFailed {
			out = append(out, n)
		}
	}
	return out
}

// Unreachable lists nodes that never ran.
func (r *ExecutionReport) Unreachable() []string {
	var out []string
	for _, n := range r.Nodes {
		if n.Status == agent.StatusIncomplete {
			out = append(out, n.NodeID)
		}
	}
	return out
}

// Outputs maps each completed node to its latest outputs.
func (r *ExecutionReport) Outputs() map[string]agent.Outputs {
	out := make(map[string]agent.Outputs)
	for _, n := range r.Nodes {
		if n.Status == agent.StatusCompleted {
			out[n.NodeID] = n.Outputs
		}
	}
	return out
}

// Report reads an execution and its node rows from the ledger. Nodes are
// ordered as declared in the graph when the graph version is still stored,
// by admission time otherwise.
func (c *Coordinator) Report(ctx context.Context, executionID string) (*ExecutionReport, error) {
	exec, err := c.ledger.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	rows, err := c.ledger.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*agent.NodeExecution)
	generations := make(map[string]int)
	for _, row := range rows {
		generations[row.NodeID]++
		if current, ok := latest[row.NodeID]; !ok || row.Generation > current.Generation {
			latest[row.NodeID] = row
		}
	}

	var order []string
	handled := make(map[string]bool)
	if graph, err := c.graphs.Get(ctx, exec.GraphRef()); err == nil {
		for _, node := range graph.Nodes {
			if _, ok := latest[node.ID]; ok {
				order = append(order, node.ID)
			}
			handled[node.ID] = graph.HasErrorPath(node.ID)
		}
	} else {
		for id := range latest {
			order = append(order, id)
		}
		sort.Slice(order, func(i, j int) bool {
			a, b := latest[order[i]], latest[order[j]]
			if !a.AddedTime.Equal(b.AddedTime) {
				return a.AddedTime.Before(b.AddedTime)
			}
			return a.NodeID < b.NodeID
		})
	}

	report := &ExecutionReport{Execution: exec, Rows: rows}
	for _, id := range order {
		row := latest[id]
		node := NodeReport{
			NodeID:          id,
			BlockType:       row.BlockType,
			NodeExecutionID: row.ID,
			Generation:      row.Generation,
			Generations:     generations[id],
			Status:          row.Status,
			ErrorKind:       row.ErrorKind,
			Error:           row.Error,
			Handled:         row.Status == agent.StatusFailed && handled[id],
			Attempts:        row.Stats.Attempts,
			Duration:        row.Stats.Duration,
		}
		if row.Status != agent.StatusIncomplete {
			ios, err := c.ledger.ListIO(ctx, row.ID)
			if err != nil {
				return nil, err
			}
			if node.Inputs, err = decodeInputs(ios); err != nil {
				return nil, err
			}
			if node.Outputs, err = decodeOutputs(ios); err != nil {
				return nil, err
			}
		}
		report.Nodes = append(report.Nodes, node)
	}
	return report, nil
}
