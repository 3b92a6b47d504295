package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
	"github.com/alexisbeaulieu97/graphrun/pkg/diff"
)

func newDiffCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old.yaml> <new.yaml>",
		Short: "Compare two graph versions node by node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.Context(), root, args[0], args[1], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runDiff(ctx context.Context, root *rootFlags, oldPath, newPath string, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newAppContext(appOptions{SettingsPath: root.settingsPath, Verbose: root.verbose, Out: io.Discard, LogOut: errOut})
	if err != nil {
		return err
	}
	defer app.Close(context.Background()) //nolint:errcheck

	before, err := app.Compile(ctx, oldPath)
	if err != nil {
		return err
	}
	after, err := app.Compile(ctx, newPath)
	if err != nil {
		return err
	}

	result := diff.Lines(describeGraph(before), describeGraph(after), oldPath, newPath)
	if !result.Changed() {
		fmt.Fprintln(out, "graphs are equivalent")
		return nil
	}
	fmt.Fprint(out, result.Text)
	fmt.Fprintf(out, "%d line(s) added, %d removed\n", result.Added, result.Removed)
	return nil
}

// describeGraph renders a canonical, order independent description of a
// compiled graph. Node and link order in the source file does not matter.
func describeGraph(g *engine.CompiledGraph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "graph %s\n", g.Graph.ID)

	nodes := append([]agent.Node(nil), g.Graph.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, node := range nodes {
		fmt.Fprintf(&b, "node %s block=%s", node.ID, node.BlockType)
		if node.Timeout > 0 {
			fmt.Fprintf(&b, " timeout=%s", node.Timeout)
		}
		b.WriteString("\n")
		if len(node.ConstantInput) > 0 {
			fmt.Fprintf(&b, "  input %s\n", formatValues(node.ConstantInput))
		}
	}

	links := make([]string, 0, len(g.Graph.Links))
	for _, link := range g.Graph.Links {
		links = append(links, link.String())
	}
	sort.Strings(links)
	for _, link := range links {
		fmt.Fprintf(&b, "link %s\n", link)
	}

	for i, level := range g.Plan().Levels {
		ids := append([]string(nil), level.NodeIDs...)
		sort.Strings(ids)
		fmt.Fprintf(&b, "level %d: %s\n", i, strings.Join(ids, ", "))
	}
	return b.String()
}
