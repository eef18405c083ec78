package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	SettingsBucket    = []byte("settings")    // KDF params, verifier, timestamps
	CredentialsBucket = []byte("credentials") // Credential documents keyed by id
	HistoryBucket     = []byte("history")     // Nested bucket per credential id
	NotesBucket       = []byte("notes")       // Secure note documents keyed by id
)

var allBuckets = [][]byte{SettingsBucket, CredentialsBucket, HistoryBucket, NotesBucket}

// Settings keys
var (
	SettingsVersion  = []byte("version")
	SettingsSalt     = []byte("salt")
	SettingsIters    = []byte("iterations")
	SettingsVerifier = []byte("verifier")
	SettingsCreated  = []byte("created")
	SettingsAccessed = []byte("accessed")
)

// BoltStore provides BBolt-based storage for passvault
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

// Open opens or creates a vault database and ensures its buckets exist
func Open(path string, opts ...Option) (*BoltStore, error) {
	o := buildOptions(opts)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BoltStore{db: db, now: o.now}
	if err := s.ensureBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) timestamp() time.Time {
	return s.now().UTC()
}

func putTime(b *bolt.Bucket, key []byte, t time.Time) error {
	data, err := t.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getTime(b *bolt.Bucket, key []byte) (time.Time, error) {
	var t time.Time
	data := b.Get(key)
	if data == nil {
		return t, fmt.Errorf("%s not found", key)
	}
	err := t.UnmarshalBinary(data)
	return t, err
}

func getJSON(b *bolt.Bucket, key string, v any) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Settings returns the master settings, or ErrNotInitialized before setup
func (s *BoltStore) Settings() (*MasterSettings, error) {
	var ms *MasterSettings
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ms, err = readSettings(tx.Bucket(SettingsBucket))
		return err
	})
	return ms, err
}

func readSettings(b *bolt.Bucket) (*MasterSettings, error) {
	if b == nil || b.Get(SettingsVersion) == nil {
		return nil, ErrNotInitialized
	}

	iters := b.Get(SettingsIters)
	if len(iters) != 4 {
		return nil, fmt.Errorf("iterations not found")
	}
	salt := b.Get(SettingsSalt)
	if salt == nil {
		return nil, fmt.Errorf("salt not found")
	}
	verifier := b.Get(SettingsVerifier)
	if verifier == nil {
		return nil, fmt.Errorf("verifier not found")
	}

	created, err := getTime(b, SettingsCreated)
	if err != nil {
		return nil, err
	}
	accessed, err := getTime(b, SettingsAccessed)
	if err != nil {
		return nil, err
	}

	// Copy since slices are only valid during the transaction
	return &MasterSettings{
		Salt:           append([]byte(nil), salt...),
		Iterations:     int(binary.BigEndian.Uint32(iters)),
		Verifier:       append([]byte(nil), verifier...),
		CreatedAt:      created,
		LastAccessedAt: accessed,
	}, nil
}

func writeSettings(b *bolt.Bucket, ms *MasterSettings) error {
	iters := make([]byte, 4)
	binary.BigEndian.PutUint32(iters, uint32(ms.Iterations))

	if err := b.Put(SettingsSalt, ms.Salt); err != nil {
		return err
	}
	if err := b.Put(SettingsIters, iters); err != nil {
		return err
	}
	if err := b.Put(SettingsVerifier, ms.Verifier); err != nil {
		return err
	}
	if err := putTime(b, SettingsCreated, ms.CreatedAt.UTC()); err != nil {
		return err
	}
	if err := putTime(b, SettingsAccessed, ms.LastAccessedAt.UTC()); err != nil {
		return err
	}
	// Version is written last; its presence marks the vault initialized
	return b.Put(SettingsVersion, []byte("1"))
}

// SaveSettings stores the master settings
func (s *BoltStore) SaveSettings(ms *MasterSettings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return writeSettings(tx.Bucket(SettingsBucket), ms)
	})
}

// TouchSettings updates the last access timestamp
func (s *BoltStore) TouchSettings(at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(SettingsBucket)
		if b.Get(SettingsVersion) == nil {
			return ErrNotInitialized
		}
		return putTime(b, SettingsAccessed, at.UTC())
	})
}

// SaveCredential inserts or updates a credential
func (s *BoltStore) SaveCredential(c *Credential) error {
	if c.ID == "" {
		return fmt.Errorf("credential id required")
	}
	now := s.timestamp()

	return s.db.Update(func(tx *bolt.Tx) error {
		creds := tx.Bucket(CredentialsBucket)

		row := *c
		row.Tags = normalizeTags(row.Tags)
		row.ModifiedAt = now

		var prev Credential
		found, err := getJSON(creds, c.ID, &prev)
		if err != nil {
			return err
		}
		if found {
			row.CreatedAt = prev.CreatedAt
			if passwordChanged(&prev, &row) {
				if err := pushHistory(tx, c.ID, prev.EncryptedPassword, now); err != nil {
					return err
				}
			}
		} else if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}

		if err := putJSON(creds, row.ID, &row); err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		*c = row
		return nil
	})
}

func pushHistory(tx *bolt.Tx, credentialID string, blob []byte, at time.Time) error {
	hb, err := tx.Bucket(HistoryBucket).CreateBucketIfNotExists([]byte(credentialID))
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if err := appendHistory(hb, &HistoryRecord{
		ID:                   uuid.NewString(),
		CredentialID:         credentialID,
		EncryptedOldPassword: blob,
		ChangedAt:            at,
	}); err != nil {
		return err
	}
	return pruneHistory(hb)
}

func appendHistory(hb *bolt.Bucket, rec *HistoryRecord) error {
	seq, err := hb.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return hb.Put(itob(seq), data)
}

// countKeys counts entries with a cursor; Bucket.Stats does not see
// writes still pending in the current transaction.
func countKeys(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// pruneHistory drops the oldest records beyond MaxHistory
func pruneHistory(hb *bolt.Bucket) error {
	n := countKeys(hb)
	if n <= MaxHistory {
		return nil
	}
	var stale [][]byte
	c := hb.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < n-MaxHistory; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := hb.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// GetCredential returns a credential by id
func (s *BoltStore) GetCredential(id string) (*Credential, error) {
	var c Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(CredentialsBucket), id, &c)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) credentials(match func(*Credential) bool) ([]Credential, error) {
	var out []Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(CredentialsBucket).ForEach(func(k, v []byte) error {
			var c Credential
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to decode credential %s: %w", k, err)
			}
			if match(&c) {
				out = append(out, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortCredentials(out)
	return out, nil
}

// ListCredentials returns credentials whose domain contains domainFilter
func (s *BoltStore) ListCredentials(domainFilter string) ([]Credential, error) {
	return s.credentials(func(c *Credential) bool { return matchesDomain(c, domainFilter) })
}

// SearchCredentials matches query against domain or username
func (s *BoltStore) SearchCredentials(query string) ([]Credential, error) {
	return s.credentials(func(c *Credential) bool { return matchesQuery(c, query) })
}

// DeleteCredential removes a credential and its history
func (s *BoltStore) DeleteCredential(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(CredentialsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		history := tx.Bucket(HistoryBucket)
		if history.Bucket([]byte(id)) != nil {
			return history.DeleteBucket([]byte(id))
		}
		return nil
	})
}

// RecordUsage increments the use counter and stamps the last use time
func (s *BoltStore) RecordUsage(id string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		creds := tx.Bucket(CredentialsBucket)
		var c Credential
		found, err := getJSON(creds, id, &c)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		c.UseCount++
		c.LastUsedAt = at.UTC()
		return putJSON(creds, id, &c)
	})
}

// History returns a credential's previous passwords, newest first
func (s *BoltStore) History(credentialID string) ([]HistoryRecord, error) {
	var out []HistoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		hb := tx.Bucket(HistoryBucket).Bucket([]byte(credentialID))
		if hb == nil {
			return nil
		}
		c := hb.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode history: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// FindDuplicateCredentialGroups groups credentials with equal fingerprints
func (s *BoltStore) FindDuplicateCredentialGroups() ([][]Credential, error) {
	creds, err := s.ListCredentials("")
	if err != nil {
		return nil, err
	}
	return groupDuplicates(creds), nil
}

// SaveNote inserts or updates a secure note
func (s *BoltStore) SaveNote(n *Note) error {
	if n.ID == "" {
		return fmt.Errorf("note id required")
	}
	now := s.timestamp()

	return s.db.Update(func(tx *bolt.Tx) error {
		notes := tx.Bucket(NotesBucket)
		row := *n
		row.ModifiedAt = now

		var prev Note
		found, err := getJSON(notes, n.ID, &prev)
		if err != nil {
			return err
		}
		if found {
			row.CreatedAt = prev.CreatedAt
		} else if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}

		if err := putJSON(notes, row.ID, &row); err != nil {
			return fmt.Errorf("failed to store note: %w", err)
		}
		*n = row
		return nil
	})
}

// GetNote returns a secure note by id
func (s *BoltStore) GetNote(id string) (*Note, error) {
	var n Note
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(NotesBucket), id, &n)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotes returns notes whose title contains titleFilter, newest first
func (s *BoltStore) ListNotes(titleFilter string) ([]Note, error) {
	var out []Note
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(NotesBucket).ForEach(func(k, v []byte) error {
			var n Note
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("failed to decode note %s: %w", k, err)
			}
			if titleFilter == "" || containsFold(n.Title, titleFilter) {
				out = append(out, n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNotes(out)
	return out, nil
}

// DeleteNote removes a secure note
func (s *BoltStore) DeleteNote(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(NotesBucket).Delete([]byte(id))
	})
}

// ExportAll returns every entry row
func (s *BoltStore) ExportAll() (*Dump, error) {
	d := &Dump{
		Credentials: []Credential{},
		History:     []HistoryRecord{},
		Notes:       []Note{},
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(CredentialsBucket).ForEach(func(k, v []byte) error {
			var c Credential
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			d.Credentials = append(d.Credentials, c)
			return nil
		}); err != nil {
			return err
		}

		history := tx.Bucket(HistoryBucket)
		if err := history.ForEach(func(k, v []byte) error {
			hb := history.Bucket(k)
			if hb == nil {
				return nil
			}
			return hb.ForEach(func(_, v []byte) error {
				var rec HistoryRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				d.History = append(d.History, rec)
				return nil
			})
		}); err != nil {
			return err
		}

		return tx.Bucket(NotesBucket).ForEach(func(k, v []byte) error {
			var n Note
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			d.Notes = append(d.Notes, n)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	return d, nil
}

// ImportAll writes rows whose ids are not already present
func (s *BoltStore) ImportAll(d *Dump) (*ImportCounts, error) {
	counts := &ImportCounts{}
	err := s.db.Update(func(tx *bolt.Tx) error {
		*counts = ImportCounts{}
		creds := tx.Bucket(CredentialsBucket)
		imported := make(map[string]bool)
		for i := range d.Credentials {
			c := d.Credentials[i]
			if creds.Get([]byte(c.ID)) != nil {
				counts.Skipped++
				continue
			}
			c.Tags = normalizeTags(c.Tags)
			if err := putJSON(creds, c.ID, &c); err != nil {
				return err
			}
			imported[c.ID] = true
			counts.Credentials++
		}

		if err := writeHistory(tx, d.History, imported, counts); err != nil {
			return err
		}

		notes := tx.Bucket(NotesBucket)
		for i := range d.Notes {
			n := d.Notes[i]
			if notes.Get([]byte(n.ID)) != nil {
				counts.Skipped++
				continue
			}
			if err := putJSON(notes, n.ID, &n); err != nil {
				return err
			}
			counts.Notes++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to import: %w", err)
	}
	return counts, nil
}

// writeHistory appends records for credentials in accept, oldest first
func writeHistory(tx *bolt.Tx, records []HistoryRecord, accept map[string]bool, counts *ImportCounts) error {
	history := tx.Bucket(HistoryBucket)
	touched := make(map[string]*bolt.Bucket)
	for i := range records {
		rec := records[i]
		if !accept[rec.CredentialID] {
			continue
		}
		hb, err := history.CreateBucketIfNotExists([]byte(rec.CredentialID))
		if err != nil {
			return err
		}
		if err := appendHistory(hb, &rec); err != nil {
			return err
		}
		touched[rec.CredentialID] = hb
		if counts != nil {
			counts.History++
		}
	}
	for _, hb := range touched {
		if err := pruneHistory(hb); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAll swaps settings and all rows in one transaction
func (s *BoltStore) ReplaceAll(ms *MasterSettings, d *Dump) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := recreateBuckets(tx); err != nil {
			return err
		}
		if err := writeSettings(tx.Bucket(SettingsBucket), ms); err != nil {
			return err
		}

		creds := tx.Bucket(CredentialsBucket)
		ids := make(map[string]bool, len(d.Credentials))
		for i := range d.Credentials {
			c := d.Credentials[i]
			if err := putJSON(creds, c.ID, &c); err != nil {
				return err
			}
			ids[c.ID] = true
		}
		if err := writeHistory(tx, d.History, ids, nil); err != nil {
			return err
		}

		notes := tx.Bucket(NotesBucket)
		for i := range d.Notes {
			n := d.Notes[i]
			if err := putJSON(notes, n.ID, &n); err != nil {
				return err
			}
		}
		return nil
	})
}

func recreateBuckets(tx *bolt.Tx) error {
	for _, bucket := range allBuckets {
		if tx.Bucket(bucket) != nil {
			if err := tx.DeleteBucket(bucket); err != nil {
				return fmt.Errorf("failed to drop bucket %s: %w", bucket, err)
			}
		}
		if _, err := tx.CreateBucket(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Statistics aggregates counts over the whole vault
func (s *BoltStore) Statistics(now time.Time) (*Statistics, error) {
	creds, err := s.ListCredentials("")
	if err != nil {
		return nil, err
	}
	var notes int
	err = s.db.View(func(tx *bolt.Tx) error {
		notes = countKeys(tx.Bucket(NotesBucket))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return computeStatistics(creds, notes, now), nil
}

// Reset removes all data including master settings
func (s *BoltStore) Reset() error {
	return s.db.Update(recreateBuckets)
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after deleting entries or changing the master password.
func (s *BoltStore) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// bolt.Compact walks every bucket, nested history buckets included
	if err := bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	// Reopen database
	s.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
