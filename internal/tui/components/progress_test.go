package components

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		total   int
		settled int
		want    float64
	}{
		{"empty graph", 0, 0, 0},
		{"half way", 10, 5, 0.5},
		{"done", 4, 4, 1},
		{"clamped", 2, 5, 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.want, NewProgress(tc.total).Ratio(tc.settled), 1e-9)
		})
	}
}

func TestProgressView(t *testing.T) {
	t.Parallel()

	t.Run("renders label and bar", func(t *testing.T) {
		t.Parallel()
		view := NewProgress(100).View(50)
		require.Contains(t, view, "50/100")
		require.Greater(t, len(strings.TrimSpace(view)), len("50/100"))
	})

	t.Run("shows actual count beyond total", func(t *testing.T) {
		t.Parallel()
		require.Contains(t, NewProgress(3).View(4), "4/3")
	})
}
