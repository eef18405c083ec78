package core

import (
	"errors"
	"fmt"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/session"
	"github.com/illarion/passvault/internal/storage"
)

var (
	ErrWeakPassword          = errors.New("master password too weak")
	ErrAuthenticationFailure = errors.New("incorrect master password")
	ErrVaultLocked           = errors.New("vault is locked")
	ErrNotFound              = errors.New("entry not found")
	ErrValidation            = errors.New("validation failed")
	ErrStorage               = errors.New("storage failure")
	ErrDecryptionFailure     = errors.New("decryption failed")
	ErrAlreadyInitialized    = errors.New("vault already initialized")
	ErrNotInitialized        = errors.New("vault not initialized")
)

// Error kind names reported by ErrorKind
const (
	KindWeakPassword          = "WeakPassword"
	KindAuthenticationFailure = "AuthenticationFailure"
	KindVaultLocked           = "VaultLocked"
	KindNotFound              = "NotFound"
	KindValidation            = "ValidationError"
	KindStorage               = "StorageError"
	KindDecryption            = "DecryptionFailure"
	KindAlreadyInitialized    = "AlreadyInitialized"
	KindNotInitialized        = "NotInitialized"
	KindInternal              = "Internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrWeakPassword, KindWeakPassword},
	{ErrAuthenticationFailure, KindAuthenticationFailure},
	{ErrVaultLocked, KindVaultLocked},
	{ErrNotFound, KindNotFound},
	{ErrValidation, KindValidation},
	{ErrDecryptionFailure, KindDecryption},
	{ErrAlreadyInitialized, KindAlreadyInitialized},
	{ErrNotInitialized, KindNotInitialized},
	{ErrStorage, KindStorage},
}

// ErrorKind maps err to the name of its error kind. Nil maps to "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr wraps a store failure, translating the store's own sentinels
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrNotInitialized):
		return ErrNotInitialized
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

// sessionErr translates session errors into the manager's taxonomy
func sessionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrLocked), errors.Is(err, session.ErrKeyState):
		return fmt.Errorf("%w: %w", ErrVaultLocked, err)
	case errors.Is(err, session.ErrAuthentication):
		return ErrAuthenticationFailure
	case errors.Is(err, session.ErrAlreadyInitialized):
		return ErrAlreadyInitialized
	case errors.Is(err, session.ErrNotInitialized):
		return ErrNotInitialized
	default:
		return storageErr(err)
	}
}

func decryptErr(what string, err error) error {
	if errors.Is(err, crypto.ErrDecryption) {
		return fmt.Errorf("%w: %s", ErrDecryptionFailure, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrDecryptionFailure, what, err)
}
