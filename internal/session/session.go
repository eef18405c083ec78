// Package session holds the vault's lock state and the resident encryption
// key. The key lives in a guarded memory buffer only while the session is
// unlocked and is destroyed on every transition to locked.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/jonboulle/clockwork"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/storage"
)

// DefaultIdleTimeout is the inactivity window before an automatic lock
const DefaultIdleTimeout = 15 * time.Minute

// VerifierMarker is the plaintext sealed into MasterSettings.Verifier
var VerifierMarker = []byte("passvault-verifier-v1")

var (
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotInitialized     = errors.New("vault not initialized")
	ErrAuthentication     = errors.New("incorrect master password")
	ErrLocked             = errors.New("vault is locked")
	ErrKeyState           = errors.New("invalid key state")
)

// State of a session
type State int

const (
	Uninitialized State = iota
	Locked
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LockReason says why a session left the unlocked state
type LockReason string

const (
	ReasonExplicit LockReason = "explicit"
	ReasonIdle     LockReason = "idle"
	ReasonShutdown LockReason = "shutdown"
	ReasonKeyState LockReason = "key-state"
)

// SettingsStore is the slice of storage the session needs
type SettingsStore interface {
	Settings() (*storage.MasterSettings, error)
	SaveSettings(s *storage.MasterSettings) error
	TouchSettings(at time.Time) error
}

// Options configures a Session. Zero values select defaults.
type Options struct {
	Clock       clockwork.Clock
	IdleTimeout time.Duration // negative disables auto-lock
	Iterations  int
}

// Session is the lock/unlock state machine of one vault
type Session struct {
	mu         sync.Mutex
	store      SettingsStore
	clock      clockwork.Clock
	idle       time.Duration
	iterations int

	state State
	key   *memguard.LockedBuffer
	timer clockwork.Timer
	gen   uint64

	hooks []func(LockReason)
}

// New creates a session over store. The initial state is Uninitialized when
// the store has no settings and Locked otherwise, unreadable settings
// included.
func New(store SettingsStore, opts Options) *Session {
	s := &Session{
		store:      store,
		clock:      opts.Clock,
		idle:       opts.IdleTimeout,
		iterations: opts.Iterations,
		state:      Locked,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.idle == 0 {
		s.idle = DefaultIdleTimeout
	}
	if s.iterations == 0 {
		s.iterations = crypto.DefaultIterations
	}

	if _, err := store.Settings(); errors.Is(err, storage.ErrNotInitialized) {
		s.state = Uninitialized
	}
	return s
}

// OnLock registers fn to run after every transition to locked. Hooks run
// outside the session mutex.
func (s *Session) OnLock(fn func(LockReason)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsLocked reports whether data operations are refused
func (s *Session) IsLocked() bool {
	return s.State() != Unlocked
}

// Derive creates fresh master settings for password: a new salt, the derived
// key and a verifier sealed under it. The caller owns the returned key.
func Derive(password []byte, iterations int, now time.Time) ([]byte, *storage.MasterSettings, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	key := crypto.DeriveKey(password, salt, iterations)
	verifier, err := crypto.Encrypt(key, VerifierMarker)
	if err != nil {
		crypto.ClearBytes(key)
		return nil, nil, fmt.Errorf("failed to create verifier: %w", err)
	}
	return key, &storage.MasterSettings{
		Salt:           salt,
		Iterations:     iterations,
		Verifier:       verifier,
		CreatedAt:      now.UTC(),
		LastAccessedAt: now.UTC(),
	}, nil
}

// Setup initializes the vault with password and unlocks it
func (s *Session) Setup(password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Uninitialized {
		return ErrAlreadyInitialized
	}
	if _, err := s.store.Settings(); !errors.Is(err, storage.ErrNotInitialized) {
		s.state = Locked
		return ErrAlreadyInitialized
	}

	key, ms, err := Derive(password, s.iterations, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.store.SaveSettings(ms); err != nil {
		crypto.ClearBytes(key)
		return fmt.Errorf("failed to save settings: %w", err)
	}

	s.install(key)
	return nil
}

// verify derives the key for password from stored settings and checks it
// against the verifier. Any unreadable setting is an authentication failure.
func (s *Session) verify(password []byte) ([]byte, error) {
	ms, err := s.store.Settings()
	if errors.Is(err, storage.ErrNotInitialized) {
		return nil, ErrNotInitialized
	}
	if err != nil || ms.Iterations < crypto.MinIterations || len(ms.Salt) == 0 {
		return nil, ErrAuthentication
	}

	key := crypto.DeriveKey(password, ms.Salt, ms.Iterations)
	marker, err := crypto.Decrypt(key, ms.Verifier)
	if err != nil || !crypto.ConstantTimeCompare(marker, VerifierMarker) {
		crypto.ClearBytes(key)
		return nil, ErrAuthentication
	}
	return key, nil
}

// Verify checks password without changing state
func (s *Session) Verify(password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.verify(password)
	if err != nil {
		return err
	}
	crypto.ClearBytes(key)
	return nil
}

// Unlock moves Locked to Unlocked when password matches the verifier.
// Unlocking an unlocked session re-checks the password and resets the
// idle window.
func (s *Session) Unlock(password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninitialized {
		return ErrNotInitialized
	}

	key, err := s.verify(password)
	if err != nil {
		return err
	}

	if s.key != nil {
		s.key.Destroy()
	}
	s.install(key)

	// Access time is informational
	_ = s.store.TouchSettings(s.clock.Now())
	return nil
}

// install moves key into a guarded buffer, wiping the source
func (s *Session) install(key []byte) {
	s.key = memguard.NewBufferFromBytes(key)
	s.state = Unlocked
	s.schedule()
}

// schedule restarts the idle timer. Callers hold mu.
func (s *Session) schedule() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.idle < 0 {
		return
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.idle, func() { s.expire(gen) })
}

func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Unlocked {
		s.mu.Unlock()
		return
	}
	s.lock()
	hooks := s.hooks
	s.mu.Unlock()

	notify(hooks, ReasonIdle)
}

// lock destroys the key and stops the timer. Callers hold mu.
func (s *Session) lock() bool {
	wasUnlocked := s.state == Unlocked
	if s.key != nil {
		s.key.Destroy()
		s.key = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	if wasUnlocked {
		s.state = Locked
	}
	return wasUnlocked
}

func notify(hooks []func(LockReason), reason LockReason) {
	for _, fn := range hooks {
		fn(reason)
	}
}

func (s *Session) lockWith(reason LockReason) {
	s.mu.Lock()
	changed := s.lock()
	hooks := s.hooks
	s.mu.Unlock()

	if changed {
		notify(hooks, reason)
	}
}

// Lock destroys the resident key. Locking a locked session is a no-op.
func (s *Session) Lock() {
	s.lockWith(ReasonExplicit)
}

// Close locks the session for shutdown
func (s *Session) Close() {
	s.lockWith(ReasonShutdown)
}

// Touch resets the idle window while unlocked
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Unlocked {
		s.schedule()
	}
}

// Key returns a private copy of the resident key and resets the idle
// window. The caller must clear the copy. A resident key of the wrong size
// locks the session.
func (s *Session) Key() ([]byte, error) {
	s.mu.Lock()
	if s.state != Unlocked {
		s.mu.Unlock()
		return nil, ErrLocked
	}
	if s.key == nil || !s.key.IsAlive() || s.key.Size() != crypto.KeySize {
		s.lock()
		hooks := s.hooks
		s.mu.Unlock()
		notify(hooks, ReasonKeyState)
		return nil, ErrKeyState
	}

	out := make([]byte, crypto.KeySize)
	copy(out, s.key.Bytes())
	s.schedule()
	s.mu.Unlock()
	return out, nil
}

// Rekey replaces the resident key after a master password change. newKey is
// wiped.
func (s *Session) Rekey(newKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		crypto.ClearBytes(newKey)
		return ErrLocked
	}
	if len(newKey) != crypto.KeySize {
		crypto.ClearBytes(newKey)
		return ErrKeyState
	}
	if s.key != nil {
		s.key.Destroy()
	}
	s.install(newKey)
	return nil
}

// Reset returns the session to Uninitialized after the vault was wiped
func (s *Session) Reset() {
	s.mu.Lock()
	changed := s.lock()
	s.state = Uninitialized
	hooks := s.hooks
	s.mu.Unlock()

	if changed {
		notify(hooks, ReasonExplicit)
	}
}
