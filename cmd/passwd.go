package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/passvault/internal/core"
	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/keyring"
)

// Passwd changes the master password and re-encrypts every entry
func Passwd(env *Env) {
	m := env.OpenManager()
	defer m.Close()

	current, _, err := env.GetPassword("Enter current master password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(current)

	next, err := core.ReadPasswordConfirm("Enter new master password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer crypto.ClearBytes(next)

	if err := m.ChangeMasterPassword(string(current), string(next)); err != nil {
		HandleError(err)
	}

	// Keep an existing keyring entry in step with the new password
	if keyring.HasPassword(env.Config.VaultPath) {
		if err := keyring.SavePassword(env.Config.VaultPath, string(next)); err == nil {
			fmt.Println("Keyring updated with new password")
		}
	}

	// Rewriting every entry leaves free pages behind
	if err := m.Compact(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
	}

	fmt.Println("master password changed successfully")
}
