package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

func newBlocksCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "blocks",
		Short: "List the registered block types and their ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlocks(root, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runBlocks(root *rootFlags, out, errOut io.Writer) error {
	app, err := newAppContext(appOptions{SettingsPath: root.settingsPath, Verbose: root.verbose, Out: io.Discard, LogOut: errOut})
	if err != nil {
		return err
	}
	defer app.Close(context.Background()) //nolint:errcheck

	registered := app.Registry.List()
	metas := make([]agent.BlockMetadata, 0, len(registered))
	for _, b := range registered {
		metas = append(metas, b.Metadata())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Type < metas[j].Type })

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TYPE", "VERSION", "INPUTS", "OUTPUTS", "DESCRIPTION")
	for _, meta := range metas {
		t.Row(meta.Type, meta.Version, describePorts(meta.InputSchema), describePorts(meta.OutputSchema), meta.Description)
	}
	fmt.Fprintln(out, t.Render())
	return nil
}

// describePorts renders ports as name:type, marking required ports with "!".
func describePorts(schema agent.Schema) string {
	parts := make([]string, 0, len(schema))
	for _, port := range schema {
		part := port.Name + ":" + string(port.Type)
		if port.Required {
			part += "!"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}
