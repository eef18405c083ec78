package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/illarion/passvault/internal/keyring"
)

// Status shows the vault state. Does not require a password.
func Status(env *Env) {
	m := env.OpenManager()
	defer m.Close()

	status, err := m.Status()
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("Vault:      %s (%s)\n", env.Config.VaultPath, env.Config.Backend)
	if !status.Initialized {
		fmt.Println("State:      not initialized")
		fmt.Println("Run 'passvault init' to create one")
		return
	}

	if info, err := os.Stat(env.Config.VaultPath); err == nil {
		fmt.Printf("Size:       %s\n", formatSize(info.Size()))
	}
	fmt.Printf("Encryption: %s, %s (%d iterations)\n", status.Algorithm, status.KDF, status.KDFIterations)
	fmt.Printf("Created:    %s\n", status.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Last used:  %s\n", status.LastAccessedAt.Format(time.RFC3339))
	if keyring.HasPassword(env.Config.VaultPath) {
		fmt.Println("Keyring:    password stored")
	} else {
		fmt.Println("Keyring:    not stored")
	}
}

// Stats prints aggregate counts over the vault contents
func Stats(env *Env) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	stats, err := m.GetStatistics()
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("Credentials:      %d\n", stats.TotalCredentials)
	fmt.Printf("Secure notes:     %d\n", stats.TotalNotes)
	fmt.Printf("Used in 7 days:   %d\n", stats.RecentlyUsed)
	fmt.Printf("Duplicate groups: %d\n", stats.DuplicateGroups)
	if len(stats.Tags) > 0 {
		fmt.Printf("Tags:             %v\n", stats.Tags)
	}
}
