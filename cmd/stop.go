package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

func NewStopCommand() *cobra.Command {
	stopCmd := &cobra.Command{
		Use:               "stop",
		Aliases:           []string{"down"},
		Short:             "Stop a managed server",
		Long:              `Stop a managed server`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: serverCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			id := args[0]
			response, err := daemon.SendCommand("STOP " + id)
			if err != nil {
				slog.Error("Could not connect to daemon. Nothing to stop.")
				os.Exit(1)
			}
			response.LogMessages()
		},
	}

	return stopCmd
}
