package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"go.brondum.dev/steward/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Steward - Dev Server Orchestrator",
		Long:  `Steward - Dev Server Orchestrator`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose > 0 {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: time.DateTime,
			})))

			if err := os.MkdirAll(configPath, 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := core.Initialize(configPath); err != nil {
				return err
			}
			core.Config.Verbose = verbose
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewStartCommand(),
		NewStopCommand(),
		NewRestartCommand(),
		NewStatusCommand(),
		NewSocketsCommand(),
		NewKillCommand(),
		NewEventsCommand(),
		NewLogsCommand(),
		NewQuitCommand(),
		NewTokenCommand(),
		NewVersionCommand(),
		NewDaemonCommand(),
		NewInternalCommand(),
	)

	return rootCmd
}
