package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd creates the top-level "planner" command and registers all
// subcommands.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "planner",
		Short:         "School activity planner with approval workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newExpandCmd(),
		newUsersCmd(),
	)
	return root
}
