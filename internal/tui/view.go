package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/tui/components"
)

const summaryLimit = 40

// View renders the current state of the model.
func (m Model) View() string {
	var sections []string

	sections = append(sections, titleStyle.Render(fmt.Sprintf("graphrun • %s", m.title())))

	list := components.NewNodeList(m.order, m.nodes)
	progress := components.NewProgress(len(m.order)).View(list.Settled())
	sections = append(sections, sectionStyle.Render("Progress"), progress)

	if entries := list.Entries(); len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Nodes"), m.renderNodes(entries))
	}

	data := components.SummaryData{
		Total:      len(m.order),
		Settled:    list.Settled(),
		Status:     m.status,
		Cancelling: m.cancelling,
	}
	if m.report != nil {
		data.Reason = m.report.Execution.FailureReason
		data.Error = m.report.Execution.Error
		data.Unreachable = m.report.Unreachable()
		data.LoopCapHits = m.report.Execution.Stats.LoopCapHits
	}
	if summary := components.NewSummary(data).View(); strings.TrimSpace(summary) != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summaryStyle.Render(summary))
	}
	if m.err != nil {
		sections = append(sections, failureStyle.Render("Error: "+m.err.Error()))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderNodes(entries []components.NodeEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		state := entry.State
		icon := StatusIcon(state.Status)
		if state.Status == agent.StatusRunning && !m.finished {
			icon = m.spinner.View()
		}
		line := fmt.Sprintf(" %s %s", icon, entry.ID)
		if state.Generation > 1 {
			line = fmt.Sprintf("%s #%d", line, state.Generation)
		}
		if strings.TrimSpace(state.Detail) != "" {
			line = fmt.Sprintf("%s: %s", line, state.Detail)
		}
		if state.Duration > 0 {
			line = fmt.Sprintf("%s (%s)", line, state.Duration.Truncate(time.Millisecond))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) title() string {
	name := "execution"
	if m.plan != nil && m.plan.GraphID != "" {
		name = fmt.Sprintf("%s@v%d", m.plan.GraphID, m.plan.Version)
	}
	if m.executionID != "" {
		name = fmt.Sprintf("%s (%s)", name, m.executionID)
	}
	return name
}

// StatusIcon returns the glyph representing a node or execution status.
func StatusIcon(status agent.Status) string {
	g := glyphFor(status)
	return g.style.Render(g.icon)
}

func formatOutputs(summary map[string]string) string {
	if len(summary) == 0 {
		return ""
	}
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+summary[k])
	}
	return strings.Join(parts, " ")
}
