package agent

import (
	"fmt"
	"time"
)

// NodeKey is the idempotency key of a node execution: re-admitting the same
// key never creates a second row.
type NodeKey struct {
	ExecutionID string
	NodeID      string
	Generation  int
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.ExecutionID, k.NodeID, k.Generation)
}

// NodeStats records per-row counters.
type NodeStats struct {
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Inputs   int           `json:"inputs"`
	Outputs  int           `json:"outputs"`
}

// NodeExecution is one attempt generation of one node within an execution.
// Generation is greater than one only when a static link re-triggered the node.
type NodeExecution struct {
	ID          string
	ExecutionID string
	NodeID      string
	BlockType   string
	Generation  int
	Status      Status
	ErrorKind   ErrorCode
	Error       string
	Stats       NodeStats
	AddedTime   time.Time
	QueuedTime  time.Time
	StartedTime time.Time
	EndedTime   time.Time
}

// Key returns the idempotency key of the row.
func (n *NodeExecution) Key() NodeKey {
	return NodeKey{ExecutionID: n.ExecutionID, NodeID: n.NodeID, Generation: n.Generation}
}

// IODirection tells whether an IO row was consumed or produced.
type IODirection string

const (
	DirectionInput  IODirection = "input"
	DirectionOutput IODirection = "output"
)

// NodeExecutionIO is one named input or output value of a node execution.
// Data holds the JSON encoding of the value. Rows are immutable.
type NodeExecutionIO struct {
	ID              string
	ExecutionID     string
	NodeExecutionID string
	Direction       IODirection
	Name            string
	Data            []byte
	Time            time.Time
}

// ReferencedByInput returns the node execution that consumed this row, if any.
func (io *NodeExecutionIO) ReferencedByInput() string {
	if io.Direction == DirectionInput {
		return io.NodeExecutionID
	}
	return ""
}

// ReferencedByOutput returns the node execution that produced this row, if any.
func (io *NodeExecutionIO) ReferencedByOutput() string {
	if io.Direction == DirectionOutput {
		return io.NodeExecutionID
	}
	return ""
}
