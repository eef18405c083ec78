package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/illarion/passvault/internal/core"
	"github.com/illarion/passvault/internal/crypto"
)

// Export writes an encrypted backup bundle to path, or stdout for "-"
func Export(env *Env, path string) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	data, err := m.ExportData()
	if err != nil {
		HandleError(err)
	}

	if path == "-" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		HandleError(err)
	}
	fmt.Fprintf(os.Stderr, "✓ Exported to %s (%s)\n", path, formatSize(int64(len(data))))
}

// Import merges a backup bundle into the vault. Entries whose ids already
// exist are skipped. A bundle from another vault asks for that vault's
// master password.
func Import(env *Env, path string) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		HandleError(err)
	}

	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	counts, err := m.ImportData(data, "")
	if core.ErrorKind(err) == core.KindAuthenticationFailure {
		pw, perr := core.ReadPassword("Master password of the exporting vault: ")
		if perr != nil {
			HandleError(perr)
		}
		defer crypto.ClearBytes(pw)
		counts, err = m.ImportData(data, string(pw))
	}
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("✓ Imported %d credentials, %d history entries, %d notes (%d skipped)\n",
		counts.Credentials, counts.History, counts.Notes, counts.Skipped)
}
