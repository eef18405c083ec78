package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/illarion/passvault/internal/config"
	"github.com/illarion/passvault/internal/core"
	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/keyring"
	"github.com/illarion/passvault/internal/logging"
	"github.com/illarion/passvault/internal/storage"
)

// PasswordSource tells where a master password came from
type PasswordSource int

const (
	SourceEnv PasswordSource = iota
	SourceKeyring
	SourcePrompt
)

// Env carries what every command needs
type Env struct {
	Config *config.Config
	Log    *zap.Logger
}

// NewEnv builds the command environment from cfg
func NewEnv(cfg *config.Config) *Env {
	return &Env{Config: cfg, Log: logging.Must(cfg.LogLevel)}
}

// OpenManager opens the configured store and wraps it in a manager. The
// caller must Close the manager.
func (e *Env) OpenManager() *core.Manager {
	st, err := storage.OpenBackend(e.Config.Backend, e.Config.VaultPath)
	if err != nil {
		HandleError(err)
	}
	m, err := core.New(core.Options{
		Store:            st,
		Logger:           e.Log,
		IdleTimeout:      e.Config.IdleTimeout,
		Iterations:       e.Config.Iterations,
		MinStrengthScore: e.Config.MinStrengthScore,
	})
	if err != nil {
		st.Close()
		HandleError(err)
	}
	return m
}

// GetPassword returns the master password from the environment, the keyring
// or a prompt, in that order. The caller should crypto.ClearBytes the result.
func (e *Env) GetPassword(prompt string) ([]byte, PasswordSource, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, SourceEnv, nil
	}
	if stored, err := keyring.GetPassword(e.Config.VaultPath); err == nil {
		return []byte(stored), SourceKeyring, nil
	}
	password, err := core.ReadPassword(prompt)
	if err != nil {
		return nil, SourcePrompt, err
	}
	return password, SourcePrompt, nil
}

// UnlockVault unlocks m, dropping a stale keyring entry and falling back to
// a prompt when the stored password no longer matches.
func (e *Env) UnlockVault(m *core.Manager) PasswordSource {
	password, source, err := e.GetPassword("Enter master password: ")
	if err != nil {
		HandleError(err)
	}
	defer func() { crypto.ClearBytes(password) }()

	err = m.Unlock(string(password))
	if err != nil && source == SourceKeyring && errors.Is(err, core.ErrAuthenticationFailure) {
		fmt.Fprintln(os.Stderr, "Stored keyring password is stale, removing it")
		_ = keyring.DeletePassword(e.Config.VaultPath)

		crypto.ClearBytes(password)
		password, err = core.ReadPassword("Enter master password: ")
		if err != nil {
			HandleError(err)
		}
		source = SourcePrompt
		err = m.Unlock(string(password))
	}
	if err != nil {
		HandleError(err)
	}

	if source == SourcePrompt && core.IsTerminal() {
		e.offerToSavePassword(password)
	}
	return source
}

// GetNewPassword reads a new master password, from the environment when
// set, otherwise by prompting twice.
func GetNewPassword(prompt string) ([]byte, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return core.ReadPasswordConfirm(prompt)
}

func (e *Env) offerToSavePassword(password []byte) {
	if keyring.HasPassword(e.Config.VaultPath) {
		return
	}
	if !Confirm("Save password to OS keyring?") {
		return
	}
	if err := keyring.SavePassword(e.Config.VaultPath, string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save to keyring: %s\n", err)
		return
	}
	fmt.Println("Password saved to keyring")
}

// Confirm asks a yes/no question on stderr, defaulting to no
func Confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	var answer string
	if _, err := fmt.Fscanln(os.Stdin, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// HandleError prints err with a hint for its kind and exits
func HandleError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	switch core.ErrorKind(err) {
	case core.KindNotInitialized:
		fmt.Fprintln(os.Stderr, "Run 'passvault init' first")
	case core.KindAlreadyInitialized:
		fmt.Fprintln(os.Stderr, "Use 'passvault status' to see current state")
	case core.KindWeakPassword:
		fmt.Fprintln(os.Stderr, "Use 'passvault strength' to check a password before using it")
	case core.KindNotFound:
		fmt.Fprintln(os.Stderr, "Use 'passvault list' to see stored ids")
	}
	os.Exit(1)
}

// parseTags splits a comma separated tag list
func parseTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// formatSize formats a file size in human-readable form
func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
