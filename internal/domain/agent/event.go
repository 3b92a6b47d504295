package agent

import (
	"fmt"
	"strings"
	"time"
)

// Live event types.
const (
	EventExecutionQueued    = "execution.queued"
	EventExecutionRunning   = "execution.running"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
	EventNodeQueued         = "node.queued"
	EventNodeRunning        = "node.running"
	EventNodeCompleted      = "node.completed"
	EventNodeFailed         = "node.failed"
)

// TopicFor returns the live-event topic of an execution.
func TopicFor(executionID string) string {
	return "execution:" + executionID
}

// LiveEvent is one state transition pushed to live monitors. Node fields are
// empty for execution-level transitions.
type LiveEvent struct {
	ExecutionID     string            `json:"execution_id"`
	NodeID          string            `json:"node_id,omitempty"`
	NodeExecutionID string            `json:"node_execution_id,omitempty"`
	Generation      int               `json:"generation,omitempty"`
	Status          Status            `json:"status"`
	Timestamp       time.Time         `json:"timestamp"`
	OutputSummary   map[string]string `json:"output_summary,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// IsNodeEvent reports whether the event describes a node transition.
func (e LiveEvent) IsNodeEvent() bool {
	return e.NodeID != ""
}

// EventType implements ports.DomainEvent.
func (e LiveEvent) EventType() string {
	scope := "execution"
	if e.IsNodeEvent() {
		scope = "node"
	}
	return scope + "." + strings.ToLower(string(e.Status))
}

// Topic returns the per-execution topic the event belongs to.
func (e LiveEvent) Topic() string {
	return TopicFor(e.ExecutionID)
}

// Payload implements ports.DomainEvent.
func (e LiveEvent) Payload() interface{} {
	payload := map[string]interface{}{
		"execution_id": e.ExecutionID,
		"status":       string(e.Status),
		"timestamp":    e.Timestamp.UTC(),
	}
	if e.IsNodeEvent() {
		payload["node_id"] = e.NodeID
		payload["node_execution_id"] = e.NodeExecutionID
		payload["generation"] = e.Generation
	}
	if len(e.OutputSummary) > 0 {
		payload["outputs"] = e.OutputSummary
	}
	if e.Error != "" {
		payload["error"] = e.Error
	}
	return payload
}

// Summarize renders outputs as short strings for live events.
func Summarize(outputs map[string]Value, limit int) map[string]string {
	if len(outputs) == 0 {
		return nil
	}
	summary := make(map[string]string, len(outputs))
	for _, name := range sortedKeys(outputs) {
		text := fmt.Sprintf("%v", outputs[name])
		if limit > 0 && len(text) > limit {
			text = text[:limit] + "..."
		}
		summary[name] = text
	}
	return summary
}
