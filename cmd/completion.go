package cmd

import (
	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/core"
)

// serverCompletionFunc completes server ids from the local config file.
func serverCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 0 || core.Config == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var ids []string
	for _, srv := range core.Config.Servers {
		ids = append(ids, srv.ID)
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}
