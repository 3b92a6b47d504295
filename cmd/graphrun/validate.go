package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.yaml>...",
		Short: "Check graph files and print their dispatch plans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), root, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runValidate(ctx context.Context, root *rootFlags, paths []string, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newAppContext(appOptions{SettingsPath: root.settingsPath, Verbose: root.verbose, Out: io.Discard, LogOut: errOut})
	if err != nil {
		return err
	}
	defer app.Close(context.Background()) //nolint:errcheck

	failed := 0
	for _, path := range paths {
		compiled, err := app.Compile(ctx, path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s\n  %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s\n%s", path, compiled.Plan())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d graph(s) invalid", failed, len(paths))
	}
	return nil
}
