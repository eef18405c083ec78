// Package keyring caches the master password in the OS keyring so the CLI
// can unlock a vault without prompting. Entries are keyed by the absolute
// vault path.
package keyring

import (
	"errors"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const serviceName = "passvault"

// ErrNotFound is returned when no password is stored for a vault
var ErrNotFound = keyring.ErrNotFound

func account(vaultPath string) string {
	if abs, err := filepath.Abs(vaultPath); err == nil {
		return abs
	}
	return vaultPath
}

// SavePassword stores a password in the OS keyring
func SavePassword(vaultPath string, password string) error {
	return keyring.Set(serviceName, account(vaultPath), password)
}

// GetPassword retrieves a password from the OS keyring
func GetPassword(vaultPath string) (string, error) {
	return keyring.Get(serviceName, account(vaultPath))
}

// DeletePassword removes a password from the OS keyring. Deleting a missing
// entry is not an error.
func DeletePassword(vaultPath string) error {
	err := keyring.Delete(serviceName, account(vaultPath))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// HasPassword checks if a password is stored in the keyring
func HasPassword(vaultPath string) bool {
	_, err := keyring.Get(serviceName, account(vaultPath))
	return err == nil
}
