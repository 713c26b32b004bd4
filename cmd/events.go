package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/daemon"
	"go.brondum.dev/steward/internal/db"
)

func NewEventsCommand() *cobra.Command {
	var limit int

	eventsCmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"history"},
		Short:   "Show recent server lifecycle events",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("EVENTS " + strconv.Itoa(limit))
			if err != nil {
				slog.Error("Could not connect to daemon.")
				os.Exit(1)
			}

			events := []db.ServerEvent{}
			if err := response.DecodeData(&events); err != nil {
				slog.Error(fmt.Sprintf("Malformed response from daemon: %v", err))
				os.Exit(1)
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				if len(events) == 0 {
					fmt.Println("No events recorded.")
					return
				}
				// Newest last reads better in a terminal
				for i := len(events) - 1; i >= 0; i-- {
					e := events[i]
					fmt.Printf("%s  %-12s %-15s %s\n",
						e.Timestamp.Format("2006-01-02 15:04:05"),
						e.ServerID, e.EventType, e.Details)
				}
			case "json":
				fmt.Println(string(response.Data))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	eventsCmd.Flags().IntVarP(&limit, "limit", "L", 20, "Number of events to show")
	eventsCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return eventsCmd
}
