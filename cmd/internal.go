package cmd

import (
	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

func NewInternalCommand() *cobra.Command {
	internalCmd := &cobra.Command{
		Use:    "internal-daemon-start",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			d := daemon.New()
			d.Run()
		},
	}

	return internalCmd
}
