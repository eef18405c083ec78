package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/storage"
)

// BundleVersion is the export format version
const BundleVersion = 1

// bundle is the export envelope. Payload is sealed under a subkey of the
// exporting vault's key; Salt and Iterations let another vault rebuild that
// key from the exporter's master password.
type bundle struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	Payload    []byte `json:"payload"`
}

type exportHistory struct {
	ID        string    `json:"id"`
	Password  string    `json:"password"`
	ChangedAt time.Time `json:"changedAt"`
}

type exportCredential struct {
	Credential
	History []exportHistory `json:"history,omitempty"` // oldest first
}

type exportPayload struct {
	ExportedAt  time.Time          `json:"exportedAt"`
	Credentials []exportCredential `json:"credentials"`
	Notes       []Note             `json:"notes"`
}

// ExportData returns an encrypted backup bundle of the whole vault.
// Unreadable entries are left out and logged.
func (m *Manager) ExportData() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []byte
	err := m.withKey(func(key []byte) error {
		ms, err := m.store.Settings()
		if err != nil {
			return storageErr(err)
		}
		dump, err := m.store.ExportAll()
		if err != nil {
			return storageErr(err)
		}

		payload := m.exportPayload(key, dump)
		plain, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
		defer crypto.ClearBytes(plain)

		bundleKey, err := crypto.Subkey(key, exportLabel)
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(bundleKey)

		sealed, err := crypto.Encrypt(bundleKey, plain)
		if err != nil {
			return err
		}
		out, err = json.MarshalIndent(bundle{
			Version:    BundleVersion,
			Salt:       ms.Salt,
			Iterations: ms.Iterations,
			Payload:    sealed,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode bundle: %w", err)
		}
		m.log.Info("vault exported",
			zap.Int("credentials", len(payload.Credentials)),
			zap.Int("notes", len(payload.Notes)))
		return nil
	})
	return out, err
}

func (m *Manager) exportPayload(key []byte, dump *storage.Dump) *exportPayload {
	history := make(map[string][]exportHistory)
	for _, h := range dump.History {
		pw, err := openOptional(key, h.EncryptedOldPassword)
		if err != nil {
			m.log.Warn("skipping unreadable history record", zap.String("id", h.ID))
			continue
		}
		history[h.CredentialID] = append(history[h.CredentialID], exportHistory{
			ID:        h.ID,
			Password:  pw,
			ChangedAt: h.ChangedAt,
		})
	}

	p := &exportPayload{
		ExportedAt:  m.now(),
		Credentials: make([]exportCredential, 0, len(dump.Credentials)),
		Notes:       make([]Note, 0, len(dump.Notes)),
	}
	list := m.decryptAll(key, dump.Credentials)
	for _, c := range list.Credentials {
		p.Credentials = append(p.Credentials, exportCredential{Credential: c, History: history[c.ID]})
	}
	for i := range dump.Notes {
		n, err := decryptNote(key, &dump.Notes[i])
		if err != nil {
			m.log.Warn("skipping unreadable note", zap.String("id", dump.Notes[i].ID))
			continue
		}
		p.Notes = append(p.Notes, *n)
	}
	return p
}

// ImportData merges a bundle produced by ExportData. A bundle from this
// vault needs no password; a bundle from another vault needs that vault's
// master password. Entries whose ids already exist are skipped.
func (m *Manager) ImportData(data []byte, password string) (*storage.ImportCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts *storage.ImportCounts
	err := m.withKey(func(key []byte) error {
		var b bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return validationf("malformed bundle: %v", err)
		}
		if b.Version != BundleVersion {
			return validationf("unsupported bundle version %d", b.Version)
		}

		payload, err := m.openBundle(key, &b, password)
		if err != nil {
			return err
		}
		dump, err := importDump(key, payload)
		if err != nil {
			return err
		}
		counts, err = m.store.ImportAll(dump)
		if err != nil {
			return storageErr(err)
		}
		m.log.Info("vault imported",
			zap.Int("credentials", counts.Credentials),
			zap.Int("history", counts.History),
			zap.Int("notes", counts.Notes),
			zap.Int("skipped", counts.Skipped))
		return nil
	})
	return counts, err
}

// openBundle picks the source key and decrypts the payload
func (m *Manager) openBundle(key []byte, b *bundle, password string) (*exportPayload, error) {
	ms, err := m.store.Settings()
	if err != nil {
		return nil, storageErr(err)
	}

	srcKey := key
	foreign := !bytes.Equal(b.Salt, ms.Salt) || b.Iterations != ms.Iterations
	if foreign {
		if b.Iterations < crypto.MinIterations || b.Iterations > crypto.MaxIterations || len(b.Salt) == 0 {
			return nil, validationf("bundle has invalid key parameters")
		}
		if password == "" {
			return nil, fmt.Errorf("%w: bundle is from another vault, its master password is required", ErrAuthenticationFailure)
		}
		pw := []byte(password)
		srcKey = crypto.DeriveKey(pw, b.Salt, b.Iterations)
		crypto.ClearBytes(pw)
		defer crypto.ClearBytes(srcKey)
	}

	bundleKey, err := crypto.Subkey(srcKey, exportLabel)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(bundleKey)

	plain, err := crypto.Decrypt(bundleKey, b.Payload)
	if err != nil {
		if foreign {
			return nil, ErrAuthenticationFailure
		}
		return nil, decryptErr("bundle", err)
	}
	defer crypto.ClearBytes(plain)

	var p exportPayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, validationf("malformed bundle payload: %v", err)
	}
	return &p, nil
}

// importDump re-encrypts payload entries under key
func importDump(key []byte, p *exportPayload) (*storage.Dump, error) {
	d := &storage.Dump{}
	for _, ec := range p.Credentials {
		c := ec.Credential
		if c.ID == "" || c.Domain == "" || c.Password == "" {
			return nil, validationf("bundle credential missing required fields")
		}
		row := storage.Credential{
			ID:         c.ID,
			Domain:     c.Domain,
			Username:   c.Username,
			Favicon:    c.Favicon,
			Tags:       c.Tags,
			CreatedAt:  c.CreatedAt,
			ModifiedAt: c.ModifiedAt,
			LastUsedAt: c.LastUsedAt,
			UseCount:   c.UseCount,
		}
		var err error
		if row.EncryptedPassword, err = crypto.Encrypt(key, []byte(c.Password)); err != nil {
			return nil, err
		}
		if row.EncryptedNotes, err = sealOptional(key, c.Notes); err != nil {
			return nil, err
		}
		if row.Fingerprint, err = fingerprint(key, c.Password); err != nil {
			return nil, err
		}
		d.Credentials = append(d.Credentials, row)

		for _, h := range ec.History {
			blob, err := crypto.Encrypt(key, []byte(h.Password))
			if err != nil {
				return nil, err
			}
			d.History = append(d.History, storage.HistoryRecord{
				ID:                   h.ID,
				CredentialID:         c.ID,
				EncryptedOldPassword: blob,
				ChangedAt:            h.ChangedAt,
			})
		}
	}
	for _, n := range p.Notes {
		if n.ID == "" || n.Title == "" {
			return nil, validationf("bundle note missing required fields")
		}
		blob, err := crypto.Encrypt(key, []byte(n.Content))
		if err != nil {
			return nil, err
		}
		d.Notes = append(d.Notes, storage.Note{
			ID:               n.ID,
			Title:            n.Title,
			EncryptedContent: blob,
			CreatedAt:        n.CreatedAt,
			ModifiedAt:       n.ModifiedAt,
		})
	}
	return d, nil
}
