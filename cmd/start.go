package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

func NewStartCommand() *cobra.Command {
	startCmd := &cobra.Command{
		Use:               "start",
		Aliases:           []string{"up"},
		Short:             "Start a managed server",
		Long:              `Start a managed server`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: serverCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			id := args[0]
			daemon.EnsureDaemonIsRunning()
			response, err := daemon.SendCommand("START " + id)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			response.LogMessages()
		},
	}

	return startCmd
}
