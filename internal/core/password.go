package core

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/passvault/internal/crypto"
)

// PasswordEnv names the environment variable holding the master password
const PasswordEnv = "PASSVAULT_PASSWORD"

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(prompt string) ([]byte, error) {
	password1, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, fmt.Errorf("passwords do not match")
	}

	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// GetPasswordFromEnv reads the master password from PASSVAULT_PASSWORD
func GetPasswordFromEnv() []byte {
	password := os.Getenv(PasswordEnv)
	if password == "" {
		return nil
	}
	return []byte(password)
}

// IsTerminal reports whether stdin is interactive
func IsTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}
