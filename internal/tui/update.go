package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/tui/components"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case EventMsg:
		m.apply(msg.Event)
		return m, nil
	case DoneMsg:
		m.finish(msg)
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.finished || m.cancelling {
				return m, tea.Quit
			}
			m.cancelling = true
			if m.onCancel != nil {
				m.onCancel()
			}
			return m, nil
		}
	case tea.QuitMsg:
		m.finished = true
		return m, nil
	}

	return m, nil
}

func (m *Model) apply(event agent.LiveEvent) {
	if !event.IsNodeEvent() {
		if m.status.CanAdvanceTo(event.Status) {
			m.status = event.Status
		}
		return
	}

	m.ensureNode(event.NodeID)
	state := m.nodes[event.NodeID]
	if event.Generation < state.Generation {
		return
	}
	if event.Generation > state.Generation {
		state = components.NodeState{Generation: event.Generation}
	}

	state.Status = event.Status
	switch event.Status {
	case agent.StatusRunning:
		state.StartedAt = event.Timestamp
	case agent.StatusCompleted:
		state.Detail = formatOutputs(event.OutputSummary)
	case agent.StatusFailed:
		state.Detail = event.Error
	}
	if event.Status.IsTerminal() && !state.StartedAt.IsZero() {
		state.Duration = event.Timestamp.Sub(state.StartedAt)
	}
	m.nodes[event.NodeID] = state
}

// finish reconciles the view with the ledger report, which also covers events
// a lossy publisher dropped.
func (m *Model) finish(msg DoneMsg) {
	m.finished = true
	m.err = msg.Err
	m.report = msg.Report
	if msg.Report == nil {
		return
	}
	m.status = msg.Report.Execution.Status
	for _, node := range msg.Report.Nodes {
		m.ensureNode(node.NodeID)
		detail := node.Error
		if node.Status == agent.StatusCompleted {
			detail = formatOutputs(agent.Summarize(node.Outputs, summaryLimit))
		}
		m.nodes[node.NodeID] = components.NodeState{
			Status:     node.Status,
			Generation: node.Generation,
			Detail:     detail,
			Duration:   node.Duration,
		}
	}
}
