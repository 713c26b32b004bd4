// Package keyring stores the HTTP API token in the OS credential store.
package keyring

import (
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const (
	serviceName = "steward"
	tokenKey    = "api-token"
)

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
)

// initKeyring initializes the keyring with fallback options
func initKeyring() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		// On macOS, prioritize Keychain and don't include FileBackend fallback
		// to avoid the "No directory provided" error
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: serviceName,
			// Allow multiple backends with priority order
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,      // macOS Keychain
				keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
				keyring.WinCredBackend,       // Windows Credential Manager
				keyring.PassBackend,          // Pass (password-store.org)
			},
		})
	})
	return ring, ringErr
}

// SetToken stores the API token
func SetToken(token string) error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	return kr.Set(keyring.Item{
		Key:  tokenKey,
		Data: []byte(token),
	})
}

// GetToken retrieves the stored API token.
// Returns empty string if no token is stored
func GetToken() (string, error) {
	kr, err := initKeyring()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := kr.Get(tokenKey)
	if err == keyring.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve token: %w", err)
	}
	return string(item.Data), nil
}

// DeleteToken removes the stored API token
func DeleteToken() error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	err = kr.Remove(tokenKey)
	if err == keyring.ErrKeyNotFound {
		return fmt.Errorf("no API token stored")
	}
	return err
}

// HasToken checks if an API token is stored
func HasToken() bool {
	kr, err := initKeyring()
	if err != nil {
		return false
	}

	_, err = kr.Get(tokenKey)
	return err == nil
}
