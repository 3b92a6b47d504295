package engine

import (
	"sort"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// Ready is a node generation whose inputs are satisfied.
type Ready struct {
	NodeID     string
	Generation int
	Inputs     map[string]agent.Value
}

// Key returns the idempotency key of the dispatch.
func (r Ready) Key(executionID string) agent.NodeKey {
	return agent.NodeKey{ExecutionID: executionID, NodeID: r.NodeID, Generation: r.Generation}
}

type nodeState struct {
	// buffer holds the latest value received on each linked port.
	buffer   map[string]agent.Value
	received map[string]bool

	generation int
	inFlight   bool
	retrigger  bool
	status     agent.Status
}

// Resolver owns the value space of one execution and decides which nodes are
// ready. It is not safe for concurrent use; the coordinator drives it from a
// single goroutine.
type Resolver struct {
	graph        *CompiledGraph
	base         map[string]map[string]agent.Value
	iterationCap int
	states       map[string]*nodeState
	loopCapHits  int
}

// NewResolver creates a resolver for one execution. resolvedInput is the
// output of CompiledGraph.ResolveInput. An iterationCap below one means one
// generation per node.
func NewResolver(graph *CompiledGraph, resolvedInput map[string]map[string]agent.Value, iterationCap int) *Resolver {
	if iterationCap < 1 {
		iterationCap = 1
	}
	r := &Resolver{
		graph:        graph,
		base:         make(map[string]map[string]agent.Value, len(graph.Nodes)),
		iterationCap: iterationCap,
		states:       make(map[string]*nodeState, len(graph.Nodes)),
	}
	for id := range graph.Nodes {
		r.base[id] = graph.BaseInputs(id, resolvedInput)
		r.states[id] = &nodeState{
			buffer:   make(map[string]agent.Value),
			received: make(map[string]bool),
			status:   agent.StatusIncomplete,
		}
	}
	return r
}

// Seed returns every node that is ready before any link has fired, in
// topological order.
func (r *Resolver) Seed() []Ready {
	var out []Ready
	for _, id := range r.graph.Order {
		if ready, ok := r.tryFirst(id); ok {
			out = append(out, ready)
		}
	}
	return out
}

// Complete records the outputs of a node generation and returns the nodes it
// made ready. Outputs on the error port are ignored. A pending static
// re-trigger of the node itself is emitted last.
func (r *Resolver) Complete(nodeID string, generation int, outputs agent.Outputs) []Ready {
	st, ok := r.finish(nodeID, generation, agent.StatusCompleted)
	if !ok {
		return nil
	}

	var out []Ready
	node := r.graph.Nodes[nodeID]
	for _, link := range node.Outbound {
		if link.SourcePort == agent.ErrorPort {
			continue
		}
		value, ok := outputs[link.SourcePort]
		if !ok {
			continue
		}
		out = append(out, r.deliver(link, value)...)
	}
	if st.retrigger {
		st.retrigger = false
		if ready, ok := r.next(nodeID); ok {
			out = append(out, ready)
		}
	}
	return out
}

// Fail records a failed node generation. The error message is delivered on
// the error port when it is linked and nothing is delivered on other ports,
// so dependents fed solely by the node never become ready. A pending static
// re-trigger is dropped.
func (r *Resolver) Fail(nodeID string, generation int, message string) []Ready {
	st, ok := r.finish(nodeID, generation, agent.StatusFailed)
	if !ok {
		return nil
	}
	st.retrigger = false

	var out []Ready
	for _, link := range r.graph.Nodes[nodeID].Outbound {
		if link.SourcePort == agent.ErrorPort {
			out = append(out, r.deliver(link, message)...)
		}
	}
	return out
}

// Track marks a generation as in flight without deriving it from links. The
// coordinator uses it on resume for rows whose trigger could not be replayed.
func (r *Resolver) Track(nodeID string, generation int) {
	st, ok := r.states[nodeID]
	if !ok {
		return
	}
	if generation > st.generation {
		st.generation = generation
	}
	st.inFlight = true
}

// Dispatched reports whether the node was dispatched at least once.
func (r *Resolver) Dispatched(nodeID string) bool {
	st, ok := r.states[nodeID]
	return ok && st.generation > 0
}

// InFlight reports whether the node has a generation awaiting its result.
func (r *Resolver) InFlight(nodeID string) bool {
	st, ok := r.states[nodeID]
	return ok && st.inFlight
}

// Generation returns the latest generation dispatched for the node.
func (r *Resolver) Generation(nodeID string) int {
	if st, ok := r.states[nodeID]; ok {
		return st.generation
	}
	return 0
}

// Status returns the terminal status of the node's latest generation, or
// INCOMPLETE when it never finished.
func (r *Resolver) Status(nodeID string) agent.Status {
	if st, ok := r.states[nodeID]; ok {
		return st.status
	}
	return agent.StatusIncomplete
}

// LoopCapHits counts static values dropped because a node reached the
// iteration cap.
func (r *Resolver) LoopCapHits() int {
	return r.loopCapHits
}

// Restore rebuilds the value space from terminal ledger rows and returns the
// generations still to dispatch. Rows are replayed in completion order so
// each replayed generation finds its trigger already applied.
func (r *Resolver) Restore(rows []*agent.NodeExecution, outputs map[string]agent.Outputs) []Ready {
	pending := make(map[agent.NodeKey]Ready)
	var order []agent.NodeKey
	add := func(items []Ready) {
		for _, item := range items {
			key := item.Key("")
			if _, ok := pending[key]; !ok {
				order = append(order, key)
			}
			pending[key] = item
		}
	}

	add(r.Seed())

	terminal := make([]*agent.NodeExecution, 0, len(rows))
	for _, row := range rows {
		if row.Status.IsTerminal() {
			terminal = append(terminal, row)
		}
	}
	sort.SliceStable(terminal, func(i, j int) bool {
		a, b := terminal[i], terminal[j]
		if !a.EndedTime.Equal(b.EndedTime) {
			return a.EndedTime.Before(b.EndedTime)
		}
		return a.AddedTime.Before(b.AddedTime)
	})

	for _, row := range terminal {
		if _, ok := r.states[row.NodeID]; !ok {
			continue
		}
		r.Track(row.NodeID, row.Generation)
		r.states[row.NodeID].generation = row.Generation
		delete(pending, agent.NodeKey{NodeID: row.NodeID, Generation: row.Generation})
		if row.Status == agent.StatusCompleted {
			add(r.Complete(row.NodeID, row.Generation, outputs[row.ID]))
		} else {
			add(r.Fail(row.NodeID, row.Generation, row.Error))
		}
	}

	var out []Ready
	for _, key := range order {
		if item, ok := pending[key]; ok {
			out = append(out, item)
		}
	}
	return out
}

// deliver stores a link value at its sink and returns the sink if it became
// ready.
func (r *Resolver) deliver(link agent.Link, value agent.Value) []Ready {
	st := r.states[link.SinkNodeID]
	st.buffer[link.SinkPort] = value

	if !link.IsStatic {
		st.received[link.SinkPort] = true
		if ready, ok := r.tryFirst(link.SinkNodeID); ok {
			return []Ready{ready}
		}
		return nil
	}

	switch {
	case st.generation == 0:
		if ready, ok := r.tryFirst(link.SinkNodeID); ok {
			return []Ready{ready}
		}
	case st.inFlight:
		st.retrigger = true
	default:
		if ready, ok := r.next(link.SinkNodeID); ok {
			return []Ready{ready}
		}
	}
	return nil
}

// tryFirst emits generation one when every non-static port has a value.
func (r *Resolver) tryFirst(nodeID string) (Ready, bool) {
	st := r.states[nodeID]
	if st.generation > 0 || st.inFlight {
		return Ready{}, false
	}
	for _, port := range r.graph.Nodes[nodeID].DynamicPorts {
		if !st.received[port] {
			return Ready{}, false
		}
	}
	return r.emit(nodeID, 1), true
}

// next emits the following generation for a static re-trigger, bounded by
// the iteration cap.
func (r *Resolver) next(nodeID string) (Ready, bool) {
	st := r.states[nodeID]
	if st.generation >= r.iterationCap {
		r.loopCapHits++
		return Ready{}, false
	}
	for _, port := range r.graph.Nodes[nodeID].DynamicPorts {
		if !st.received[port] {
			return Ready{}, false
		}
	}
	return r.emit(nodeID, st.generation+1), true
}

func (r *Resolver) emit(nodeID string, generation int) Ready {
	st := r.states[nodeID]
	st.generation = generation
	st.inFlight = true

	inputs := make(map[string]agent.Value, len(r.base[nodeID])+len(st.buffer))
	for k, v := range r.base[nodeID] {
		inputs[k] = v
	}
	for k, v := range st.buffer {
		inputs[k] = v
	}
	return Ready{NodeID: nodeID, Generation: generation, Inputs: inputs}
}

func (r *Resolver) finish(nodeID string, generation int, status agent.Status) (*nodeState, bool) {
	st, ok := r.states[nodeID]
	if !ok || !st.inFlight || st.generation != generation {
		return nil, false
	}
	st.inFlight = false
	st.status = status
	return st, true
}
