package keyring

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptToken prompts the user to enter the API token securely (no echo)
func PromptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Enter API token: ")

	// Try to open /dev/tty directly for terminal input
	// Fall back to stdin if tty is not available
	fd := int(os.Stdin.Fd())
	tty, err := os.Open("/dev/tty")
	if err == nil {
		defer tty.Close()
		fd = int(tty.Fd())
	}

	tokenBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // Print newline after input

	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	return string(tokenBytes), nil
}

// PromptAndConfirmToken prompts for the token twice and confirms they match
func PromptAndConfirmToken() (string, error) {
	token1, err := PromptToken()
	if err != nil {
		return "", err
	}

	fmt.Fprint(os.Stderr, "Confirm API token: ")

	fd := int(os.Stdin.Fd())
	tty, err := os.Open("/dev/tty")
	if err == nil {
		defer tty.Close()
		fd = int(tty.Fd())
	}

	tokenBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("failed to read token confirmation: %w", err)
	}

	if token1 != string(tokenBytes) {
		return "", fmt.Errorf("tokens do not match")
	}

	return token1, nil
}
