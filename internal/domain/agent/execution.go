package agent

import (
	"strings"
	"time"
)

// Status is the lifecycle state shared by executions and node executions.
type Status string

const (
	StatusIncomplete Status = "INCOMPLETE"
	StatusQueued     Status = "QUEUED"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusIncomplete: 0,
	StatusQueued:     1,
	StatusRunning:    2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// monotonic. Re-asserting the current state is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// ParseStatus converts a string to a Status.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := statusRank[status]
	return status, ok
}

// TriggerType records what started an execution.
type TriggerType string

const (
	TriggerManual   TriggerType = "MANUAL"
	TriggerSchedule TriggerType = "SCHEDULE"
	TriggerWebhook  TriggerType = "WEBHOOK"
)

// IsValid reports whether t is a known trigger type.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerManual, TriggerSchedule, TriggerWebhook:
		return true
	}
	return false
}

// FailureReason qualifies a FAILED execution.
type FailureReason string

const (
	ReasonNone       FailureReason = ""
	ReasonCancelled  FailureReason = "Cancelled"
	ReasonNodeFailed FailureReason = "NodeFailed"
	ReasonDefinition FailureReason = "Definition"
)

// ExecutionStats aggregates counters for one execution.
type ExecutionStats struct {
	NodesTotal      int           `json:"nodes_total"`
	NodesCompleted  int           `json:"nodes_completed"`
	NodesFailed     int           `json:"nodes_failed"`
	NodesIncomplete int           `json:"nodes_incomplete"`
	Dispatches      int           `json:"dispatches"`
	Retries         int           `json:"retries"`
	LoopCapHits     int           `json:"loop_cap_hits"`
	Duration        time.Duration `json:"duration"`
}

// Execution is the durable record of one run of one graph version.
type Execution struct {
	ID              string
	GraphID         string
	GraphVersion    int
	TriggerType     TriggerType
	Owner           string
	Input           map[string]Value
	LiveMonitoring  bool
	Status          Status
	FailureReason   FailureReason
	Error           string
	CancelRequested bool
	Stats           ExecutionStats
	CreatedAt       time.Time
	StartedAt       time.Time
	EndedAt         time.Time
	UpdatedAt       time.Time
}

// GraphRef returns the graph version this execution runs.
func (e *Execution) GraphRef() Ref {
	return Ref{ID: e.GraphID, Version: e.GraphVersion}
}

// ExecutionRequest is what a trigger hands to the engine. ExecutionID is the
// idempotency key: replaying a request never starts a second execution.
type ExecutionRequest struct {
	ExecutionID    string
	GraphID        string
	GraphVersion   int
	Input          map[string]Value
	TriggerType    TriggerType
	LiveMonitoring bool
	Owner          string
}

// Validate checks the request envelope.
func (r ExecutionRequest) Validate() error {
	if strings.TrimSpace(r.ExecutionID) == "" {
		return newValidationError("execution id is required", nil)
	}
	if strings.TrimSpace(r.GraphID) == "" {
		return newValidationError("graph id is required", map[string]interface{}{"execution_id": r.ExecutionID})
	}
	if r.GraphVersion <= 0 {
		return newValidationError("graph version must be positive", map[string]interface{}{"execution_id": r.ExecutionID})
	}
	if strings.TrimSpace(r.Owner) == "" {
		return newValidationError("owning principal is required", map[string]interface{}{"execution_id": r.ExecutionID})
	}
	if r.TriggerType != "" && !r.TriggerType.IsValid() {
		return newValidationError("unknown trigger type", map[string]interface{}{"trigger_type": string(r.TriggerType)})
	}
	return nil
}

// NewExecution builds the initial INCOMPLETE record for a request.
func NewExecution(req ExecutionRequest, now time.Time) *Execution {
	trigger := req.TriggerType
	if trigger == "" {
		trigger = TriggerManual
	}
	return &Execution{
		ID:             req.ExecutionID,
		GraphID:        req.GraphID,
		GraphVersion:   req.GraphVersion,
		TriggerType:    trigger,
		Owner:          req.Owner,
		Input:          cloneValues(req.Input),
		LiveMonitoring: req.LiveMonitoring,
		Status:         StatusIncomplete,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
