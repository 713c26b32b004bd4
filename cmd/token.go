package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"go.brondum.dev/steward/internal/core"
	"go.brondum.dev/steward/internal/keyring"
)

func NewTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the HTTP API token",
		Long: `Manage the HTTP API token.

The token itself is stored in the system keyring; only its bcrypt hash
is written to the config directory for the daemon to verify against.`,
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set the API token",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			token, err := keyring.PromptAndConfirmToken()
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read token: %v", err))
				os.Exit(1)
			}
			if token == "" {
				slog.Error("Token must not be empty")
				os.Exit(1)
			}

			if err := keyring.SetToken(token); err != nil {
				slog.Error(fmt.Sprintf("Failed to store token: %v", err))
				os.Exit(1)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to hash token: %v", err))
				os.Exit(1)
			}
			if err := os.WriteFile(core.GetTokenHashPath(), hash, 0o600); err != nil {
				slog.Error(fmt.Sprintf("Failed to write token hash: %v", err))
				os.Exit(1)
			}

			slog.Info("API token stored. Restart the daemon for it to take effect.")
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored API token",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			token, err := keyring.GetToken()
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read token: %v", err))
				os.Exit(1)
			}
			if token == "" {
				slog.Info("No API token stored")
				return
			}
			fmt.Println(token)
		},
	}

	clearCmd := &cobra.Command{
		Use:     "clear",
		Aliases: []string{"delete", "rm"},
		Short:   "Remove the API token",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := keyring.DeleteToken(); err != nil {
				slog.Warn(err.Error())
			}
			if err := os.Remove(core.GetTokenHashPath()); err != nil && !os.IsNotExist(err) {
				slog.Error(fmt.Sprintf("Failed to remove token hash: %v", err))
				os.Exit(1)
			}
			slog.Info("API token removed. Restart the daemon for it to take effect.")
		},
	}

	tokenCmd.AddCommand(setCmd, showCmd, clearCmd)
	return tokenCmd
}
