package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/passvault/internal/core"
	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/keyring"
)

// KeyringSave verifies the master password and saves it to the OS keyring
func KeyringSave(env *Env) {
	m := env.OpenManager()
	defer m.Close()

	password, err := core.ReadPassword("Enter master password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	if err := m.Unlock(string(password)); err != nil {
		HandleError(err)
	}

	if err := keyring.SavePassword(env.Config.VaultPath, string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save to keyring: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("Password saved to keyring")
}

// KeyringDelete removes the password from the OS keyring
func KeyringDelete(env *Env) {
	if !keyring.HasPassword(env.Config.VaultPath) {
		fmt.Println("No password stored in keyring")
		return
	}
	if err := keyring.DeletePassword(env.Config.VaultPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Println("Password removed from keyring")
}

// KeyringStatus checks if a password is stored in the keyring
func KeyringStatus(env *Env) {
	if keyring.HasPassword(env.Config.VaultPath) {
		fmt.Println("Password: stored in keyring")
	} else {
		fmt.Println("Password: not stored")
	}
}
