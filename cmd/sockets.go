package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
	"go.brondum.dev/steward/internal/orchestrator"
)

func NewSocketsCommand() *cobra.Command {
	socketsCmd := &cobra.Command{
		Use:     "sockets",
		Aliases: []string{"ports"},
		Short:   "List listening TCP sockets and their attribution",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			daemon.EnsureDaemonIsRunning()
			response, err := daemon.SendCommand("SOCKETS")
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}

			sockets := []orchestrator.AttributedSocket{}
			if err := response.DecodeData(&sockets); err != nil {
				slog.Error(fmt.Sprintf("Malformed response from daemon: %v", err))
				os.Exit(1)
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				if len(sockets) == 0 {
					fmt.Println("No listening sockets found.")
					return
				}
				fmt.Println("Listening Sockets:")
				for _, socket := range sockets {
					owner := socket.ServerID
					if socket.Orphaned {
						owner = "ORPHAN"
					}
					fmt.Printf("  - :%d  %s  (PID: %d, %s)\n",
						socket.Port, owner, socket.Pid, socket.Program)
				}
			case "json":
				fmt.Println(string(response.Data))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	socketsCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return socketsCmd
}
