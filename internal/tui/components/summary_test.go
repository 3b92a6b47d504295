package components

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

func TestSummaryView(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     SummaryData
		contains []string
		absent   []string
	}{
		{
			name: "empty",
			data: SummaryData{},
		},
		{
			name:     "running",
			data:     SummaryData{Total: 4, Settled: 1, Status: agent.StatusRunning},
			contains: []string{"Nodes: 1/4 settled"},
			absent:   []string{"Execution"},
		},
		{
			name:     "completed",
			data:     SummaryData{Total: 2, Settled: 2, Status: agent.StatusCompleted},
			contains: []string{"Execution completed"},
		},
		{
			name: "failed with reason",
			data: SummaryData{
				Total:       3,
				Settled:     2,
				Status:      agent.StatusFailed,
				Reason:      agent.ReasonNodeFailed,
				Error:       "node B failed",
				Unreachable: []string{"C"},
			},
			contains: []string{"Execution failed (NodeFailed): node B failed", "Unreachable: C"},
		},
		{
			name:     "cancelling",
			data:     SummaryData{Total: 2, Status: agent.StatusRunning, Cancelling: true},
			contains: []string{"Cancellation requested"},
		},
		{
			name:     "loop cap",
			data:     SummaryData{Total: 1, Settled: 1, Status: agent.StatusCompleted, LoopCapHits: 2},
			contains: []string{"Iteration cap reached 2 time(s)"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			view := NewSummary(tc.data).View()
			if len(tc.contains) == 0 {
				require.Empty(t, view)
			}
			for _, s := range tc.contains {
				require.Contains(t, view, s)
			}
			for _, s := range tc.absent {
				require.NotContains(t, view, s)
			}
		})
	}
}
