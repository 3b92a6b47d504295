package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
	"github.com/alexisbeaulieu97/graphrun/internal/tui/components"
)

// EventMsg carries one live event of the watched execution.
type EventMsg struct {
	Event agent.LiveEvent
}

// DoneMsg reports that the watched execution returned.
type DoneMsg struct {
	Report *engine.ExecutionReport
	Err    error
}

// Model is the Bubbletea state of the live execution watcher.
type Model struct {
	plan        *engine.Plan
	executionID string
	nodes       map[string]components.NodeState
	order       []string
	status      agent.Status
	report      *engine.ExecutionReport
	err         error
	spinner     spinner.Model
	onCancel    func()
	cancelling  bool
	finished    bool
}

// NewModel builds a watcher for one execution of plan. onCancel runs when the
// user first presses ctrl+c; a second press quits without waiting.
func NewModel(plan *engine.Plan, executionID string, onCancel func()) Model {
	m := Model{
		plan:        plan,
		executionID: executionID,
		nodes:       make(map[string]components.NodeState),
		status:      agent.StatusIncomplete,
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(runningStyle)),
		onCancel:    onCancel,
	}
	if plan != nil {
		for _, level := range plan.Levels {
			for _, id := range level.NodeIDs {
				m.ensureNode(id)
			}
		}
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// TotalNodes returns the number of nodes tracked by the model.
func (m Model) TotalNodes() int {
	return len(m.order)
}

// SettledNodes returns how many nodes reached a terminal status.
func (m Model) SettledNodes() int {
	return components.NewNodeList(m.order, m.nodes).Settled()
}

// Status returns the latest execution status seen.
func (m Model) Status() agent.Status {
	return m.status
}

// IsFinished reports whether the execution returned.
func (m Model) IsFinished() bool {
	return m.finished
}

// Err returns the error the execution returned with, if any.
func (m Model) Err() error {
	return m.err
}

func (m *Model) ensureNode(id string) {
	if id == "" {
		return
	}
	if _, exists := m.nodes[id]; !exists {
		m.nodes[id] = components.NodeState{Status: agent.StatusIncomplete}
		m.order = append(m.order, id)
	}
}
