package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

func NewRestartCommand() *cobra.Command {
	restartCmd := &cobra.Command{
		Use:               "restart",
		Short:             "Restart a managed server",
		Long:              `Restart a managed server`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: serverCompletionFunc,
		Run: func(cmd *cobra.Command, args []string) {
			id := args[0]
			daemon.EnsureDaemonIsRunning()
			response, err := daemon.SendCommand("RESTART " + id)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			response.LogMessages()
		},
	}

	return restartCmd
}
