package components

import (
	"time"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// NodeState is the latest known state of one node.
type NodeState struct {
	Status     agent.Status
	Generation int
	Detail     string
	StartedAt  time.Time
	Duration   time.Duration
}

// NodeEntry pairs a node id with its state for rendering.
type NodeEntry struct {
	ID    string
	State NodeState
}

// NodeList keeps nodes in plan order.
type NodeList struct {
	entries []NodeEntry
}

// NewNodeList constructs a node list component.
func NewNodeList(order []string, nodes map[string]NodeState) NodeList {
	entries := make([]NodeEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, NodeEntry{ID: id, State: nodes[id]})
	}
	return NodeList{entries: entries}
}

// Entries returns the ordered node entries.
func (l NodeList) Entries() []NodeEntry {
	clone := make([]NodeEntry, len(l.entries))
	copy(clone, l.entries)
	return clone
}

// Settled counts entries in a terminal status.
func (l NodeList) Settled() int {
	n := 0
	for _, e := range l.entries {
		if e.State.Status.IsTerminal() {
			n++
		}
	}
	return n
}
