package cmd

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

func NewKillCommand() *cobra.Command {
	killCmd := &cobra.Command{
		Use:   "kill",
		Short: "Force kill an orphaned process by PID",
		Long:  `Force kill an orphaned process by PID. Use 'steward sockets' to find orphans.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := strconv.Atoi(args[0]); err != nil {
				slog.Error("PID must be a number")
				os.Exit(1)
			}
			daemon.EnsureDaemonIsRunning()
			response, err := daemon.SendCommand("KILL " + args[0])
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			response.LogMessages()
		},
	}

	return killCmd
}
