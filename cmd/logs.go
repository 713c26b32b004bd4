package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/core"
	"go.brondum.dev/steward/internal/daemon"
)

func NewLogsCommand() *cobra.Command {
	var lines int

	logsCmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Stream daemon logs in real-time",
		Long: `Stream daemon logs in real-time.

Press Ctrl+C to exit. By default, only shows INFO level and above.

Examples:
  steward logs            # Stream INFO and above
  steward logs -v         # Include DEBUG logs
  steward logs -F webfront # Filter by keyword
  steward logs -L 50      # Show 50 history lines on connect

Automatically reconnects if the daemon is restarted.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := daemon.SendCommand("VERSION"); err != nil {
				slog.Error("Daemon is not running.")
				os.Exit(1)
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			filter, _ := cmd.Flags().GetString("filter")
			noColor, _ := cmd.Flags().GetBool("no-color")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			// Suppress history replay on reconnects
			isReconnect := false

			for {
				conn, err := net.Dial("unix", core.GetSocketPath())
				if err != nil {
					slog.Error(fmt.Sprintf("Failed to connect to daemon: %v", err))
					os.Exit(1)
				}

				logsCommand := fmt.Sprintf("LOGS %d", lines)
				if isReconnect {
					logsCommand += " no_history"
				}
				logsCommand += "\n"

				if _, err := conn.Write([]byte(logsCommand)); err != nil {
					conn.Close()
					slog.Error(fmt.Sprintf("Failed to send LOGS command: %v", err))
					os.Exit(1)
				}

				done := make(chan bool)

				go func() {
					reader := bufio.NewReader(conn)
					for {
						line, err := reader.ReadString('\n')
						if err != nil {
							done <- true
							return
						}

						if !verbose && isDebugLog(line) {
							continue
						}
						if filter != "" && !strings.Contains(strings.ToLower(line), strings.ToLower(filter)) {
							continue
						}
						if noColor {
							line = stripANSI(line)
						}
						fmt.Print(line)
					}
				}()

				select {
				case <-sigChan:
					conn.Close()
					fmt.Println("\nDisconnected from daemon logs.")
					return
				case <-done:
					conn.Close()
					fmt.Println("Connection lost. Reconnecting...")
					time.Sleep(500 * time.Millisecond)

					// Wait for daemon to be available again (up to 5 seconds)
					reconnected := false
					for i := 0; i < 10; i++ {
						if _, err := daemon.SendCommand("VERSION"); err == nil {
							reconnected = true
							break
						}
						time.Sleep(500 * time.Millisecond)
					}
					if !reconnected {
						fmt.Println("Daemon not available. Exiting.")
						return
					}
					isReconnect = true
				}
			}
		},
	}

	logsCmd.Flags().BoolP("verbose", "v", false, "Show DEBUG level logs")
	logsCmd.Flags().StringP("filter", "F", "", "Filter logs by keyword")
	logsCmd.Flags().Bool("no-color", false, "Disable colored output")
	logsCmd.Flags().IntVarP(&lines, "lines", "L", 20, "Number of history lines to show on connect")

	return logsCmd
}

// isDebugLog checks if a log line is a DEBUG level log
func isDebugLog(line string) bool {
	if strings.Contains(line, " DBG ") || strings.Contains(line, "\tDBG\t") {
		return true
	}
	// ANSI-colored DBG (gray: \033[90mDBG\033[0m)
	if strings.Contains(line, "\033[90mDBG\033[0m") {
		return true
	}
	stripped := stripANSI(line)
	return strings.Contains(stripped, " DBG ") || strings.Contains(stripped, "\tDBG\t")
}

// stripANSI removes ANSI escape codes from a string
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if s[i] == 'm' {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
