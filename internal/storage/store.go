package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotInitialized = errors.New("vault not initialized")
)

// Store is the encrypted persistence contract shared by all backends.
// Implementations never receive key material.
type Store interface {
	// Settings returns the master settings or ErrNotInitialized
	Settings() (*MasterSettings, error)
	SaveSettings(s *MasterSettings) error
	TouchSettings(at time.Time) error

	// SaveCredential upserts by id. When an existing credential's password
	// blob changes, the old blob is pushed to history and history is pruned
	// to MaxHistory in the same transaction.
	SaveCredential(c *Credential) error
	GetCredential(id string) (*Credential, error)
	ListCredentials(domainFilter string) ([]Credential, error)
	SearchCredentials(query string) ([]Credential, error)
	DeleteCredential(id string) error
	RecordUsage(id string, at time.Time) error
	History(credentialID string) ([]HistoryRecord, error)
	FindDuplicateCredentialGroups() ([][]Credential, error)

	SaveNote(n *Note) error
	GetNote(id string) (*Note, error)
	ListNotes(titleFilter string) ([]Note, error)
	DeleteNote(id string) error

	ExportAll() (*Dump, error)
	ImportAll(d *Dump) (*ImportCounts, error)
	// ReplaceAll atomically swaps settings and every entry row
	ReplaceAll(s *MasterSettings, d *Dump) error
	Statistics(now time.Time) (*Statistics, error)

	// Reset removes everything, returning the vault to uninitialized
	Reset() error
	Compact() error
	Close() error
}

// Backend names accepted by OpenBackend
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Option configures a store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithNow sets the time source used for ModifiedAt and history timestamps
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OpenBackend opens a store of the named backend at path
func OpenBackend(backend, path string, opts ...Option) (Store, error) {
	switch backend {
	case "", BackendBolt:
		return Open(path, opts...)
	case BackendSQLite:
		return OpenSQL(path, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
