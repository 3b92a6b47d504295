package components

import (
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// SummaryData aggregates what the summary shows once an execution settles.
type SummaryData struct {
	Total       int
	Settled     int
	Status      agent.Status
	Reason      agent.FailureReason
	Error       string
	Unreachable []string
	LoopCapHits int
	Cancelling  bool
}

// Summary renders a textual execution summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	var lines []string
	if s.data.Total > 0 {
		lines = append(lines, fmt.Sprintf("Nodes: %d/%d settled", s.data.Settled, s.data.Total))
	}

	switch s.data.Status {
	case agent.StatusCompleted:
		lines = append(lines, "Execution completed")
	case agent.StatusFailed:
		line := "Execution failed"
		if s.data.Reason != agent.ReasonNone {
			line = fmt.Sprintf("%s (%s)", line, s.data.Reason)
		}
		if s.data.Error != "" {
			line = fmt.Sprintf("%s: %s", line, s.data.Error)
		}
		lines = append(lines, line)
	default:
		if s.data.Cancelling {
			lines = append(lines, "Cancellation requested, waiting for running nodes")
		}
	}

	if len(s.data.Unreachable) > 0 {
		lines = append(lines, "Unreachable: "+strings.Join(s.data.Unreachable, ", "))
	}
	if s.data.LoopCapHits > 0 {
		lines = append(lines, fmt.Sprintf("Iteration cap reached %d time(s)", s.data.LoopCapHits))
	}

	return strings.Join(lines, "\n")
}
