package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/session"
	"github.com/illarion/passvault/internal/storage"
)

const (
	fingerprintLabel = "passvault-fingerprint"
	exportLabel      = "passvault-export"
)

// Options configures a Manager. Store is required.
type Options struct {
	Store            storage.Store
	Clock            clockwork.Clock
	Logger           *zap.Logger
	IdleTimeout      time.Duration
	Iterations       int
	MinStrengthScore int
}

// Manager is the vault engine: it gates every data operation on the
// session state and moves entries through the cipher with a captured key.
type Manager struct {
	// mu is held exclusively by operations that replace the key or wipe
	// the vault; everything else holds it shared.
	mu sync.RWMutex

	store      storage.Store
	session    *session.Session
	clock      clockwork.Clock
	log        *zap.Logger
	iterations int
	minScore   int
}

// New creates a manager over opts.Store. The vault starts locked.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	m := &Manager{
		store:      opts.Store,
		clock:      opts.Clock,
		log:        opts.Logger,
		iterations: opts.Iterations,
		minScore:   opts.MinStrengthScore,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.iterations == 0 {
		m.iterations = crypto.DefaultIterations
	}
	if m.iterations < crypto.MinIterations || m.iterations > crypto.MaxIterations {
		return nil, fmt.Errorf("iterations must be between %d and %d", crypto.MinIterations, crypto.MaxIterations)
	}
	if m.minScore == 0 {
		m.minScore = DefaultMinStrengthScore
	}

	m.session = session.New(m.store, session.Options{
		Clock:       m.clock,
		IdleTimeout: opts.IdleTimeout,
		Iterations:  m.iterations,
	})
	m.session.OnLock(func(reason session.LockReason) {
		m.log.Info("vault locked", zap.String("reason", string(reason)))
	})
	return m, nil
}

// Close locks the vault and closes the store
func (m *Manager) Close() error {
	m.session.Close()
	if err := m.store.Close(); err != nil {
		return storageErr(err)
	}
	return nil
}

// withKey runs fn with a private copy of the vault key, cleared afterwards
func (m *Manager) withKey(fn func(key []byte) error) error {
	key, err := m.session.Key()
	if err != nil {
		if errors.Is(err, session.ErrKeyState) {
			m.log.Error("resident key in invalid state, vault locked")
		}
		return sessionErr(err)
	}
	defer crypto.ClearBytes(key)
	return fn(key)
}

// unlocked gates operations that need no key material
func (m *Manager) unlocked() error {
	if m.session.IsLocked() {
		return ErrVaultLocked
	}
	m.session.Touch()
	return nil
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC()
}

func (m *Manager) checkMasterStrength(password string) error {
	report := CheckStrength(password)
	if report.Score < m.minScore {
		return fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(report.Feedback, "; "))
	}
	return nil
}

// HasMasterPassword reports whether setup has run
func (m *Manager) HasMasterPassword() (bool, error) {
	_, err := m.store.Settings()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotInitialized):
		return false, nil
	default:
		return false, storageErr(err)
	}
}

// SetupMasterPassword initializes the vault and leaves it unlocked
func (m *Manager) SetupMasterPassword(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkMasterStrength(password); err != nil {
		return err
	}

	pw := []byte(password)
	defer crypto.ClearBytes(pw)

	if err := m.session.Setup(pw); err != nil {
		return sessionErr(err)
	}
	m.log.Info("vault initialized", zap.Int("iterations", m.iterations))
	return nil
}

// Unlock opens the vault with the master password
func (m *Manager) Unlock(password string) error {
	pw := []byte(password)
	defer crypto.ClearBytes(pw)

	if err := m.session.Unlock(pw); err != nil {
		m.log.Warn("unlock failed", zap.String("kind", ErrorKind(sessionErr(err))))
		return sessionErr(err)
	}
	m.log.Info("vault unlocked")
	return nil
}

// Lock locks the vault. Safe to call at any time.
func (m *Manager) Lock() {
	m.session.Lock()
}

// IsLocked reports whether data operations are refused
func (m *Manager) IsLocked() bool {
	return m.session.IsLocked()
}

// Status describes the vault without needing the master password
type Status struct {
	Initialized    bool
	Locked         bool
	State          string
	Algorithm      string
	KDF            string
	KDFIterations  int
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Status returns the current status (no password required)
func (m *Manager) Status() (*Status, error) {
	st := &Status{
		Locked:    m.session.IsLocked(),
		State:     m.session.State().String(),
		Algorithm: "AES-256-GCM",
		KDF:       "PBKDF2-HMAC-SHA256",
	}
	ms, err := m.store.Settings()
	switch {
	case errors.Is(err, storage.ErrNotInitialized):
		return st, nil
	case err != nil:
		return nil, storageErr(err)
	}
	st.Initialized = true
	st.KDFIterations = ms.Iterations
	st.CreatedAt = ms.CreatedAt
	st.LastAccessedAt = ms.LastAccessedAt
	return st, nil
}

// GetStatistics aggregates vault contents
func (m *Manager) GetStatistics() (*storage.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.unlocked(); err != nil {
		return nil, err
	}
	stats, err := m.store.Statistics(m.now())
	if err != nil {
		return nil, storageErr(err)
	}
	return stats, nil
}

// ChangeMasterPassword re-derives the key from next with a fresh salt and
// re-encrypts every entry. The swap is a single store transaction.
func (m *Manager) ChangeMasterPassword(current, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkMasterStrength(next); err != nil {
		return err
	}

	return m.withKey(func(oldKey []byte) error {
		cur := []byte(current)
		defer crypto.ClearBytes(cur)
		if err := m.session.Verify(cur); err != nil {
			return sessionErr(err)
		}

		prev, err := m.store.Settings()
		if err != nil {
			return storageErr(err)
		}
		dump, err := m.store.ExportAll()
		if err != nil {
			return storageErr(err)
		}

		pw := []byte(next)
		defer crypto.ClearBytes(pw)
		newKey, ms, err := session.Derive(pw, m.iterations, m.now())
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(newKey)
		ms.CreatedAt = prev.CreatedAt

		if err := rekeyDump(dump, oldKey, newKey); err != nil {
			return err
		}
		if err := m.store.ReplaceAll(ms, dump); err != nil {
			return storageErr(err)
		}

		installed := append([]byte(nil), newKey...)
		if err := m.session.Rekey(installed); err != nil {
			return sessionErr(err)
		}
		m.log.Info("master password changed",
			zap.Int("credentials", len(dump.Credentials)),
			zap.Int("notes", len(dump.Notes)))
		return nil
	})
}

// rekeyDump re-encrypts every blob in d from oldKey to newKey and recomputes
// fingerprints. Any unreadable blob aborts the change.
func rekeyDump(d *storage.Dump, oldKey, newKey []byte) error {
	fpKey, err := crypto.Subkey(newKey, fingerprintLabel)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(fpKey)

	reseal := func(what string, blob []byte) ([]byte, error) {
		if len(blob) == 0 {
			return blob, nil
		}
		plain, err := crypto.Decrypt(oldKey, blob)
		if err != nil {
			return nil, decryptErr(what, err)
		}
		defer crypto.ClearBytes(plain)
		return crypto.Encrypt(newKey, plain)
	}

	for i := range d.Credentials {
		c := &d.Credentials[i]
		plain, err := crypto.Decrypt(oldKey, c.EncryptedPassword)
		if err != nil {
			return decryptErr("credential "+c.ID, err)
		}
		c.Fingerprint = crypto.Fingerprint(fpKey, plain)
		c.EncryptedPassword, err = crypto.Encrypt(newKey, plain)
		crypto.ClearBytes(plain)
		if err != nil {
			return err
		}
		if c.EncryptedNotes, err = reseal("credential notes "+c.ID, c.EncryptedNotes); err != nil {
			return err
		}
	}
	for i := range d.History {
		h := &d.History[i]
		if h.EncryptedOldPassword, err = reseal("history "+h.ID, h.EncryptedOldPassword); err != nil {
			return err
		}
	}
	for i := range d.Notes {
		n := &d.Notes[i]
		if n.EncryptedContent, err = reseal("note "+n.ID, n.EncryptedContent); err != nil {
			return err
		}
	}
	return nil
}

// ResetVault removes all data and settings. The vault becomes
// uninitialized; no password is needed.
func (m *Manager) ResetVault() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Reset(); err != nil {
		return storageErr(err)
	}
	m.session.Reset()
	m.log.Warn("vault reset")
	return nil
}

// Compact reclaims unused space in the vault file
func (m *Manager) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Compact(); err != nil {
		return storageErr(err)
	}
	return nil
}
