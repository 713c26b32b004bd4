package cmd

import (
	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

// NewDaemonCommand runs the daemon in the foreground, mostly useful for
// debugging and for running under a process supervisor.
func NewDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the steward daemon in the foreground",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			d := daemon.New()
			d.Run()
		},
	}

	return daemonCmd
}
