package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	settingsPath string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "graphrun",
		Short:         "graphrun executes typed dataflow graphs of blocks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.settingsPath, "settings", "", "Path to engine settings YAML")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newBatchCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	cmd.AddCommand(newDiffCmd(flags))
	cmd.AddCommand(newBlocksCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
