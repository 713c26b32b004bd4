package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Shows the state of all managed servers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				slog.Warn("No managed servers (daemon is not running).")
				return
			}

			statuses := []daemon.ServerStatus{}
			if err := response.DecodeData(&statuses); err != nil {
				slog.Error(fmt.Sprintf("Malformed response from daemon: %v", err))
				os.Exit(1)
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				if len(statuses) == 0 {
					fmt.Println("No servers configured.")
					return
				}
				fmt.Println("Managed Servers:")
				for _, status := range statuses {
					line := fmt.Sprintf("  - %s [%s]", status.ServerID, status.Status)
					if status.Pid > 0 {
						line += fmt.Sprintf(" (PID: %d", status.Pid)
						if status.StartedAt != "" {
							if startedAt, err := time.Parse(time.RFC3339, status.StartedAt); err == nil {
								line += fmt.Sprintf(", Age: %s", time.Since(startedAt).Round(time.Second))
							}
						}
						line += ")"
					}
					fmt.Println(line)
				}
			case "json":
				fmt.Println(string(response.Data))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return statusCmd
}
