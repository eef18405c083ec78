package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/passvault/internal/keyring"
)

// Compact compacts the vault database to reclaim unused space
func Compact(env *Env) {
	m := env.OpenManager()
	defer m.Close()

	info, err := os.Stat(env.Config.VaultPath)
	if err != nil {
		HandleError(err)
	}
	sizeBefore := info.Size()

	if err := m.Compact(); err != nil {
		HandleError(err)
	}

	info, err = os.Stat(env.Config.VaultPath)
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(info.Size()))
}

// Reset wipes every entry and the master settings after confirmation
func Reset(env *Env, force bool) {
	if !force && !Confirm("Delete all vault contents including the master password?") {
		fmt.Println("Aborted")
		return
	}

	m := env.OpenManager()
	defer m.Close()

	if err := m.ResetVault(); err != nil {
		HandleError(err)
	}
	_ = keyring.DeletePassword(env.Config.VaultPath)

	fmt.Println("Vault reset. Run 'passvault init' to start over")
}
