package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

const defaultBarWidth = 30

// Progress renders how many nodes have settled.
type Progress struct {
	bar   progress.Model
	total int
}

// NewProgress creates a progress component for the given node count.
func NewProgress(total int) Progress {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultBarWidth
	return Progress{bar: bar, total: total}
}

// Ratio returns the settled fraction, clamped to [0, 1].
func (p Progress) Ratio(settled int) float64 {
	if p.total <= 0 {
		return 0
	}
	return math.Min(1.0, float64(settled)/float64(p.total))
}

// View renders the bar for the provided settled count.
func (p Progress) View(settled int) string {
	label := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d/%d", settled, p.total))
	return lipgloss.JoinHorizontal(lipgloss.Left, label, " ", p.bar.ViewAs(p.Ratio(settled)))
}
