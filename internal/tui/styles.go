package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginTop(1)
	summaryStyle = lipgloss.NewStyle().MarginTop(1)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
)

// statusGlyph pairs the icon of a status with its colour.
type statusGlyph struct {
	icon  string
	style lipgloss.Style
}

// Incomplete nodes fall back to the "unreached" glyph.
var (
	unreachedGlyph = statusGlyph{"…", lipgloss.NewStyle().Foreground(lipgloss.Color("240"))}

	statusGlyphs = map[agent.Status]statusGlyph{
		agent.StatusQueued:    {"•", lipgloss.NewStyle().Foreground(lipgloss.Color("220"))},
		agent.StatusRunning:   {"⏳", runningStyle},
		agent.StatusCompleted: {"✓", lipgloss.NewStyle().Foreground(lipgloss.Color("42"))},
		agent.StatusFailed:    {"✗", failureStyle},
	}
)

func glyphFor(status agent.Status) statusGlyph {
	if g, ok := statusGlyphs[status]; ok {
		return g
	}
	return unreachedGlyph
}
