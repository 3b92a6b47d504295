package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/k0kubun/pp/v3"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
	"github.com/alexisbeaulieu97/graphrun/internal/tui"
)

const detailLimit = 60

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printReport(w io.Writer, report *engine.ExecutionReport) {
	exec := report.Execution
	fmt.Fprintf(w, "%s execution %s: %s (graph %s@v%d, %s)\n",
		tui.StatusIcon(exec.Status), exec.ID, exec.Status, exec.GraphID, exec.GraphVersion, exec.Stats.Duration.Round(time.Millisecond))
	if exec.FailureReason != agent.ReasonNone {
		fmt.Fprintf(w, "reason: %s\n", exec.FailureReason)
	}
	if exec.Error != "" {
		fmt.Fprintf(w, "error: %s\n", exec.Error)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NODE", "BLOCK", "STATUS", "GEN", "ATTEMPTS", "DURATION", "DETAIL")
	for _, node := range report.Nodes {
		t.Row(
			node.NodeID,
			node.BlockType,
			string(node.Status),
			strconv.Itoa(node.Generation),
			strconv.Itoa(node.Attempts),
			node.Duration.Round(time.Millisecond).String(),
			nodeDetail(node),
		)
	}
	fmt.Fprintln(w, t.Render())

	if unreachable := report.Unreachable(); len(unreachable) > 0 {
		fmt.Fprintf(w, "unreachable: %s\n", strings.Join(unreachable, ", "))
	}
	if exec.Stats.LoopCapHits > 0 {
		fmt.Fprintf(w, "iteration cap reached %d time(s)\n", exec.Stats.LoopCapHits)
	}
}

// dumpReport pretty prints the raw ledger rows for debugging.
func dumpReport(w io.Writer, report *engine.ExecutionReport) {
	printer := pp.New()
	printer.SetColoringEnabled(isTerminal(w))
	printer.Fprintln(w, report.Execution)
	printer.Fprintln(w, report.Rows)
}

func nodeDetail(node engine.NodeReport) string {
	switch node.Status {
	case agent.StatusFailed:
		detail := node.Error
		if node.Handled {
			detail = "handled: " + detail
		}
		return truncate(detail)
	case agent.StatusCompleted:
		return truncate(formatValues(node.Outputs))
	}
	return ""
}

func formatValues(values map[string]agent.Value) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formatValue(values[key]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v agent.Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	encoded, err := sonic.MarshalString(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return encoded
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= detailLimit {
		return s
	}
	return s[:detailLimit-3] + "..."
}
