package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/storage"
)

// SimilarityThreshold is the edit distance at or below which a new password
// counts as a reuse of a previous one
const SimilarityThreshold = 2

// Credential is a decrypted website login
type Credential struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	Username   string    `json:"username,omitempty"`
	Password   string    `json:"password"`
	Notes      string    `json:"notes,omitempty"`
	Favicon    string    `json:"favicon,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	UseCount   int64     `json:"useCount"`
}

// CredentialInput holds the fields of a new credential
type CredentialInput struct {
	Domain   string
	Username string
	Password string
	Notes    string
	Favicon  string
	Tags     []string
}

// CredentialUpdate holds optional replacements; nil fields are unchanged
type CredentialUpdate struct {
	Domain   *string
	Username *string
	Password *string
	Notes    *string
	Favicon  *string
	Tags     []string // nil keeps tags, empty clears them
}

// UpdateResult reports non-fatal findings of UpdateCredential
type UpdateResult struct {
	Warnings []string `json:"warnings,omitempty"`
}

// CredentialList is the result of a batch read. Skipped lists ids of
// entries that could not be decrypted.
type CredentialList struct {
	Credentials []Credential `json:"credentials"`
	Skipped     []string     `json:"skipped,omitempty"`
}

// HistoryEntry is a decrypted previous password
type HistoryEntry struct {
	Password  string    `json:"password"`
	ChangedAt time.Time `json:"changedAt"`
}

func sealOptional(key []byte, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return crypto.Encrypt(key, []byte(s))
}

func openOptional(key, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	plain, err := crypto.Decrypt(key, blob)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(plain)
	return string(plain), nil
}

func fingerprint(key []byte, password string) ([]byte, error) {
	fpKey, err := crypto.Subkey(key, fingerprintLabel)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(fpKey)
	return crypto.Fingerprint(fpKey, []byte(password)), nil
}

func decryptCredential(key []byte, c *storage.Credential) (*Credential, error) {
	password, err := openOptional(key, c.EncryptedPassword)
	if err != nil {
		return nil, decryptErr("credential "+c.ID, err)
	}
	notes, err := openOptional(key, c.EncryptedNotes)
	if err != nil {
		return nil, decryptErr("credential notes "+c.ID, err)
	}
	return &Credential{
		ID:         c.ID,
		Domain:     c.Domain,
		Username:   c.Username,
		Password:   password,
		Notes:      notes,
		Favicon:    c.Favicon,
		Tags:       c.Tags,
		CreatedAt:  c.CreatedAt,
		ModifiedAt: c.ModifiedAt,
		LastUsedAt: c.LastUsedAt,
		UseCount:   c.UseCount,
	}, nil
}

// decryptAll decrypts rows, skipping and reporting those that fail
func (m *Manager) decryptAll(key []byte, rows []storage.Credential) *CredentialList {
	list := &CredentialList{Credentials: make([]Credential, 0, len(rows))}
	for i := range rows {
		c, err := decryptCredential(key, &rows[i])
		if err != nil {
			m.log.Warn("skipping unreadable credential", zap.String("id", rows[i].ID))
			list.Skipped = append(list.Skipped, rows[i].ID)
			continue
		}
		list.Credentials = append(list.Credentials, *c)
	}
	return list
}

// AddCredential encrypts and stores a new credential, returning its id
func (m *Manager) AddCredential(in CredentialInput) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var id string
	err := m.withKey(func(key []byte) error {
		domain := strings.TrimSpace(in.Domain)
		if domain == "" {
			return validationf("domain is required")
		}
		if in.Password == "" {
			return validationf("password is required")
		}

		row := &storage.Credential{
			ID:       uuid.NewString(),
			Domain:   domain,
			Username: strings.TrimSpace(in.Username),
			Favicon:  in.Favicon,
			Tags:     in.Tags,
		}
		var err error
		if row.EncryptedPassword, err = crypto.Encrypt(key, []byte(in.Password)); err != nil {
			return err
		}
		if row.EncryptedNotes, err = sealOptional(key, in.Notes); err != nil {
			return err
		}
		if row.Fingerprint, err = fingerprint(key, in.Password); err != nil {
			return err
		}
		if err := m.store.SaveCredential(row); err != nil {
			return storageErr(err)
		}
		id = row.ID
		return nil
	})
	return id, err
}

// GetCredentials lists credentials whose domain contains domainFilter,
// most recently used first
func (m *Manager) GetCredentials(domainFilter string) (*CredentialList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list *CredentialList
	err := m.withKey(func(key []byte) error {
		rows, err := m.store.ListCredentials(domainFilter)
		if err != nil {
			return storageErr(err)
		}
		list = m.decryptAll(key, rows)
		return nil
	})
	return list, err
}

// SearchCredentials matches query against domain and username
func (m *Manager) SearchCredentials(query string) (*CredentialList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list *CredentialList
	err := m.withKey(func(key []byte) error {
		rows, err := m.store.SearchCredentials(query)
		if err != nil {
			return storageErr(err)
		}
		list = m.decryptAll(key, rows)
		return nil
	})
	return list, err
}

// GetCredential returns one decrypted credential
func (m *Manager) GetCredential(id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out *Credential
	err := m.withKey(func(key []byte) error {
		row, err := m.store.GetCredential(id)
		if err != nil {
			return storageErr(err)
		}
		out, err = decryptCredential(key, row)
		return err
	})
	return out, err
}

// UpdateCredential applies the non-nil fields of upd. A changed password
// moves the previous one into history; a new password equal or close to a
// previous one yields a warning.
func (m *Manager) UpdateCredential(id string, upd CredentialUpdate) (*UpdateResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := &UpdateResult{}
	err := m.withKey(func(key []byte) error {
		row, err := m.store.GetCredential(id)
		if err != nil {
			return storageErr(err)
		}

		if upd.Domain != nil {
			domain := strings.TrimSpace(*upd.Domain)
			if domain == "" {
				return validationf("domain is required")
			}
			row.Domain = domain
		}
		if upd.Username != nil {
			row.Username = strings.TrimSpace(*upd.Username)
		}
		if upd.Favicon != nil {
			row.Favicon = *upd.Favicon
		}
		if upd.Tags != nil {
			row.Tags = upd.Tags
		}
		if upd.Notes != nil {
			if row.EncryptedNotes, err = sealOptional(key, *upd.Notes); err != nil {
				return err
			}
		}

		if upd.Password != nil {
			if *upd.Password == "" {
				return validationf("password is required")
			}
			current, err := openOptional(key, row.EncryptedPassword)
			if err != nil {
				return decryptErr("credential "+id, err)
			}
			if current != *upd.Password {
				result.Warnings = m.reuseWarnings(key, id, current, *upd.Password)
				if row.EncryptedPassword, err = crypto.Encrypt(key, []byte(*upd.Password)); err != nil {
					return err
				}
				if row.Fingerprint, err = fingerprint(key, *upd.Password); err != nil {
					return err
				}
			}
		}

		if err := m.store.SaveCredential(row); err != nil {
			return storageErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reuseWarnings compares next against the current and retained passwords
func (m *Manager) reuseWarnings(key []byte, id, current, next string) []string {
	previous := []string{current}
	history, err := m.store.History(id)
	if err != nil {
		m.log.Warn("history unavailable for reuse check", zap.String("id", id), zap.Error(err))
	}
	for _, h := range history {
		old, err := openOptional(key, h.EncryptedOldPassword)
		if err != nil {
			continue
		}
		previous = append(previous, old)
	}

	dmp := diffmatchpatch.New()
	for _, old := range previous {
		if old == next {
			return []string{"password was used before for this credential"}
		}
	}
	for _, old := range previous {
		if dmp.DiffLevenshtein(dmp.DiffMain(old, next, false)) <= SimilarityThreshold {
			return []string{"password is very similar to a previous password"}
		}
	}
	return nil
}

// DeleteCredential removes a credential and its history. Deleting a
// missing id is not an error.
func (m *Manager) DeleteCredential(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.unlocked(); err != nil {
		return err
	}
	return storageErr(m.store.DeleteCredential(id))
}

// RecordUsage marks a credential as used now
func (m *Manager) RecordUsage(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.unlocked(); err != nil {
		return err
	}
	return storageErr(m.store.RecordUsage(id, m.now()))
}

// GetPasswordHistory returns a credential's previous passwords, newest
// first. Unreadable records are left out.
func (m *Manager) GetPasswordHistory(id string) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []HistoryEntry
	err := m.withKey(func(key []byte) error {
		if _, err := m.store.GetCredential(id); err != nil {
			return storageErr(err)
		}
		records, err := m.store.History(id)
		if err != nil {
			return storageErr(err)
		}
		out = make([]HistoryEntry, 0, len(records))
		for _, rec := range records {
			pw, err := openOptional(key, rec.EncryptedOldPassword)
			if err != nil {
				m.log.Warn("skipping unreadable history record", zap.String("id", rec.ID))
				continue
			}
			out = append(out, HistoryEntry{Password: pw, ChangedAt: rec.ChangedAt})
		}
		return nil
	})
	return out, err
}

// FindDuplicates returns groups of credentials sharing a password
func (m *Manager) FindDuplicates() ([][]Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out [][]Credential
	err := m.withKey(func(key []byte) error {
		groups, err := m.store.FindDuplicateCredentialGroups()
		if err != nil {
			return storageErr(err)
		}
		out = make([][]Credential, 0, len(groups))
		for _, g := range groups {
			list := m.decryptAll(key, g)
			if len(list.Credentials) >= 2 {
				out = append(out, list.Credentials)
			}
		}
		return nil
	})
	return out, err
}
