package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
)

func TestParseInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    map[string]agent.Value
		wantErr bool
	}{
		{name: "empty", raw: "  "},
		{name: "object", raw: `{"A.in": "x", "n": 2}`, want: map[string]agent.Value{"A.in": "x", "n": float64(2)}},
		{name: "null", raw: "null", wantErr: true},
		{name: "array", raw: "[1]", wantErr: true},
		{name: "garbage", raw: "{", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseInput("test", tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNodeDetail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		node engine.NodeReport
		want string
	}{
		{name: "completed", node: engine.NodeReport{Status: agent.StatusCompleted, Outputs: agent.Outputs{"b": 2, "a": "x"}}, want: "a=x b=2"},
		{name: "failed", node: engine.NodeReport{Status: agent.StatusFailed, Error: "boom"}, want: "boom"},
		{name: "handled", node: engine.NodeReport{Status: agent.StatusFailed, Error: "boom", Handled: true}, want: "handled: boom"},
		{name: "incomplete", node: engine.NodeReport{Status: agent.StatusIncomplete}, want: ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, nodeDetail(tc.node))
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := make([]byte, detailLimit+10)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long))
	require.Len(t, got, detailLimit)
	require.Equal(t, "...", got[detailLimit-3:])
	require.Equal(t, "a b", truncate("a\nb"))
}
