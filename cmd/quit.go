package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

func NewQuitCommand() *cobra.Command {
	quitCmd := &cobra.Command{
		Use:     "quit",
		Aliases: []string{"exit", "shutdown"},
		Short:   "Shutdown the steward daemon",
		Long: `Shuts down the steward daemon.

Managed servers keep running detached; the daemon re-adopts them on
its next start.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("QUIT")
			if err != nil {
				slog.Error("Could not connect to daemon. Nothing to stop.")
				os.Exit(1)
			}
			response.LogMessages()
		},
	}

	return quitCmd
}
