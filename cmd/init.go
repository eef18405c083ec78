package cmd

import (
	"fmt"

	"github.com/illarion/passvault/internal/core"
	"github.com/illarion/passvault/internal/crypto"
)

// Init creates a new vault protected by a master password
func Init(env *Env) {
	m := env.OpenManager()
	defer m.Close()

	ok, err := m.HasMasterPassword()
	if err != nil {
		HandleError(err)
	}
	if ok {
		HandleError(core.ErrAlreadyInitialized)
	}

	password, err := GetNewPassword("Enter new master password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	if err := m.SetupMasterPassword(string(password)); err != nil {
		HandleError(err)
	}

	fmt.Printf("✓ Initialized vault at %s\n", env.Config.VaultPath)
}
