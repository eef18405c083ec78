package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/illarion/passvault/internal/storage/migrations"
)

type settingsRow struct {
	ID             int       `gorm:"column:id;primaryKey;autoIncrement:false"`
	Salt           []byte    `gorm:"column:salt"`
	Iterations     int       `gorm:"column:iterations"`
	Verifier       []byte    `gorm:"column:verifier"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime:false"`
	LastAccessedAt time.Time `gorm:"column:last_accessed_at"`
}

func (settingsRow) TableName() string { return "master_settings" }

type credentialRow struct {
	ID                string    `gorm:"column:id;primaryKey"`
	Domain            string    `gorm:"column:domain"`
	Username          string    `gorm:"column:username"`
	EncryptedPassword []byte    `gorm:"column:encrypted_password"`
	EncryptedNotes    []byte    `gorm:"column:encrypted_notes"`
	Favicon           string    `gorm:"column:favicon"`
	Tags              []string  `gorm:"column:tags;serializer:json"`
	Fingerprint       []byte    `gorm:"column:fingerprint"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime:false"`
	ModifiedAt        time.Time `gorm:"column:modified_at"`
	LastUsedAt        time.Time `gorm:"column:last_used_at"`
	UseCount          int64     `gorm:"column:use_count"`
}

func (credentialRow) TableName() string { return "credentials" }

type historyRow struct {
	ID                   string    `gorm:"column:id;primaryKey"`
	CredentialID         string    `gorm:"column:credential_id"`
	EncryptedOldPassword []byte    `gorm:"column:encrypted_old_password"`
	ChangedAt            time.Time `gorm:"column:changed_at"`
	Seq                  int64     `gorm:"column:seq"`
}

func (historyRow) TableName() string { return "credential_history" }

type noteRow struct {
	ID               string    `gorm:"column:id;primaryKey"`
	Title            string    `gorm:"column:title"`
	EncryptedContent []byte    `gorm:"column:encrypted_content"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime:false"`
	ModifiedAt       time.Time `gorm:"column:modified_at"`
}

func (noteRow) TableName() string { return "secure_notes" }

func toCredentialRow(c *Credential) credentialRow {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return credentialRow{
		ID:                c.ID,
		Domain:            c.Domain,
		Username:          c.Username,
		EncryptedPassword: c.EncryptedPassword,
		EncryptedNotes:    c.EncryptedNotes,
		Favicon:           c.Favicon,
		Tags:              tags,
		Fingerprint:       c.Fingerprint,
		CreatedAt:         c.CreatedAt.UTC(),
		ModifiedAt:        c.ModifiedAt.UTC(),
		LastUsedAt:        c.LastUsedAt.UTC(),
		UseCount:          c.UseCount,
	}
}

func (r *credentialRow) toCredential() Credential {
	return Credential{
		ID:                r.ID,
		Domain:            r.Domain,
		Username:          r.Username,
		EncryptedPassword: r.EncryptedPassword,
		EncryptedNotes:    r.EncryptedNotes,
		Favicon:           r.Favicon,
		Tags:              normalizeTags(r.Tags),
		Fingerprint:       r.Fingerprint,
		CreatedAt:         r.CreatedAt.UTC(),
		ModifiedAt:        r.ModifiedAt.UTC(),
		LastUsedAt:        r.LastUsedAt.UTC(),
		UseCount:          r.UseCount,
	}
}

func (r *historyRow) toRecord() HistoryRecord {
	return HistoryRecord{
		ID:                   r.ID,
		CredentialID:         r.CredentialID,
		EncryptedOldPassword: r.EncryptedOldPassword,
		ChangedAt:            r.ChangedAt.UTC(),
	}
}

func toNoteRow(n *Note) noteRow {
	return noteRow{
		ID:               n.ID,
		Title:            n.Title,
		EncryptedContent: n.EncryptedContent,
		CreatedAt:        n.CreatedAt.UTC(),
		ModifiedAt:       n.ModifiedAt.UTC(),
	}
}

func (r *noteRow) toNote() Note {
	return Note{
		ID:               r.ID,
		Title:            r.Title,
		EncryptedContent: r.EncryptedContent,
		CreatedAt:        r.CreatedAt.UTC(),
		ModifiedAt:       r.ModifiedAt.UTC(),
	}
}

// SQLStore provides SQLite-based storage with one table per entity
type SQLStore struct {
	db   *gorm.DB
	sql  *sql.DB
	path string
	now  func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens or creates a SQLite vault and applies pending migrations
func OpenSQL(path string, opts ...Option) (*SQLStore, error) {
	o := buildOptions(opts)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// Single writer
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to secure database file: %w", err)
	}

	return &SQLStore{db: db, sql: sqlDB, path: path, now: o.now}, nil
}

func migrate(db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.sql.Close()
}

func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Settings returns the master settings, or ErrNotInitialized before setup
func (s *SQLStore) Settings() (*MasterSettings, error) {
	var row settingsRow
	if err := s.db.First(&row, "id = ?", 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	return &MasterSettings{
		Salt:           row.Salt,
		Iterations:     row.Iterations,
		Verifier:       row.Verifier,
		CreatedAt:      row.CreatedAt.UTC(),
		LastAccessedAt: row.LastAccessedAt.UTC(),
	}, nil
}

func saveSettings(tx *gorm.DB, ms *MasterSettings) error {
	row := settingsRow{
		ID:             1,
		Salt:           ms.Salt,
		Iterations:     ms.Iterations,
		Verifier:       ms.Verifier,
		CreatedAt:      ms.CreatedAt.UTC(),
		LastAccessedAt: ms.LastAccessedAt.UTC(),
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// SaveSettings stores the master settings
func (s *SQLStore) SaveSettings(ms *MasterSettings) error {
	return saveSettings(s.db, ms)
}

// TouchSettings updates the last access timestamp
func (s *SQLStore) TouchSettings(at time.Time) error {
	res := s.db.Model(&settingsRow{}).Where("id = ?", 1).Update("last_accessed_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotInitialized
	}
	return nil
}

// SaveCredential inserts or updates a credential
func (s *SQLStore) SaveCredential(c *Credential) error {
	if c.ID == "" {
		return fmt.Errorf("credential id required")
	}
	now := s.timestamp()

	return s.db.Transaction(func(tx *gorm.DB) error {
		next := *c
		next.Tags = normalizeTags(next.Tags)
		next.ModifiedAt = now

		var prev credentialRow
		err := tx.First(&prev, "id = ?", c.ID).Error
		switch {
		case err == nil:
			next.CreatedAt = prev.CreatedAt.UTC()
			prevCred := prev.toCredential()
			if passwordChanged(&prevCred, &next) {
				if err := s.pushHistory(tx, c.ID, prev.EncryptedPassword, now); err != nil {
					return err
				}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if next.CreatedAt.IsZero() {
				next.CreatedAt = now
			}
		default:
			return err
		}

		row := toCredentialRow(&next)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		*c = next
		return nil
	})
}

func nextSeq(tx *gorm.DB, credentialID string) (int64, error) {
	var seq int64
	err := tx.Model(&historyRow{}).
		Where("credential_id = ?", credentialID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	return seq + 1, nil
}

func (s *SQLStore) pushHistory(tx *gorm.DB, credentialID string, blob []byte, at time.Time) error {
	if err := appendHistoryRow(tx, &HistoryRecord{
		ID:                   uuid.NewString(),
		CredentialID:         credentialID,
		EncryptedOldPassword: blob,
		ChangedAt:            at,
	}); err != nil {
		return fmt.Errorf("failed to push history: %w", err)
	}
	return pruneHistoryRows(tx, credentialID)
}

func appendHistoryRow(tx *gorm.DB, rec *HistoryRecord) error {
	seq, err := nextSeq(tx, rec.CredentialID)
	if err != nil {
		return err
	}
	row := historyRow{
		ID:                   rec.ID,
		CredentialID:         rec.CredentialID,
		EncryptedOldPassword: rec.EncryptedOldPassword,
		ChangedAt:            rec.ChangedAt.UTC(),
		Seq:                  seq,
	}
	return tx.Create(&row).Error
}

// pruneHistoryRows keeps the MaxHistory highest sequence numbers
func pruneHistoryRows(tx *gorm.DB, credentialID string) error {
	var keep []string
	err := tx.Model(&historyRow{}).
		Where("credential_id = ?", credentialID).
		Order("seq DESC").
		Limit(MaxHistory).
		Pluck("id", &keep).Error
	if err != nil {
		return err
	}
	if len(keep) == 0 {
		return nil
	}
	return tx.Where("credential_id = ? AND id NOT IN ?", credentialID, keep).
		Delete(&historyRow{}).Error
}

// GetCredential returns a credential by id
func (s *SQLStore) GetCredential(id string) (*Credential, error) {
	var row credentialRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	c := row.toCredential()
	return &c, nil
}

func (s *SQLStore) credentials(where string, args ...any) ([]Credential, error) {
	var rows []credentialRow
	q := s.db.Model(&credentialRow{})
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCredential())
	}
	sortCredentials(out)
	return out, nil
}

// ListCredentials returns credentials whose domain contains domainFilter.
// SQLite's lower() folds ASCII only, so matching happens in Go.
func (s *SQLStore) ListCredentials(domainFilter string) ([]Credential, error) {
	creds, err := s.credentials("")
	if err != nil {
		return nil, err
	}
	return filterCredentials(creds, func(c *Credential) bool { return matchesDomain(c, domainFilter) }), nil
}

// SearchCredentials matches query against domain or username
func (s *SQLStore) SearchCredentials(query string) ([]Credential, error) {
	creds, err := s.credentials("")
	if err != nil {
		return nil, err
	}
	return filterCredentials(creds, func(c *Credential) bool { return matchesQuery(c, query) }), nil
}

// DeleteCredential removes a credential and its history
func (s *SQLStore) DeleteCredential(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("credential_id = ?", id).Delete(&historyRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&credentialRow{}).Error
	})
}

// RecordUsage increments the use counter and stamps the last use time
func (s *SQLStore) RecordUsage(id string, at time.Time) error {
	res := s.db.Model(&credentialRow{}).Where("id = ?", id).Updates(map[string]any{
		"use_count":    gorm.Expr("use_count + 1"),
		"last_used_at": at.UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// History returns a credential's previous passwords, newest first
func (s *SQLStore) History(credentialID string) ([]HistoryRecord, error) {
	var rows []historyRow
	err := s.db.Where("credential_id = ?", credentialID).Order("seq DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// FindDuplicateCredentialGroups groups credentials with equal fingerprints
func (s *SQLStore) FindDuplicateCredentialGroups() ([][]Credential, error) {
	creds, err := s.credentials("fingerprint IS NOT NULL AND fingerprint IN (SELECT fingerprint FROM credentials WHERE fingerprint IS NOT NULL GROUP BY fingerprint HAVING COUNT(*) > 1)")
	if err != nil {
		return nil, err
	}
	return groupDuplicates(creds), nil
}

// SaveNote inserts or updates a secure note
func (s *SQLStore) SaveNote(n *Note) error {
	if n.ID == "" {
		return fmt.Errorf("note id required")
	}
	now := s.timestamp()

	return s.db.Transaction(func(tx *gorm.DB) error {
		next := *n
		next.ModifiedAt = now

		var prev noteRow
		err := tx.First(&prev, "id = ?", n.ID).Error
		switch {
		case err == nil:
			next.CreatedAt = prev.CreatedAt.UTC()
		case errors.Is(err, gorm.ErrRecordNotFound):
			if next.CreatedAt.IsZero() {
				next.CreatedAt = now
			}
		default:
			return err
		}

		row := toNoteRow(&next)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to store note: %w", err)
		}
		*n = next
		return nil
	})
}

// GetNote returns a secure note by id
func (s *SQLStore) GetNote(id string) (*Note, error) {
	var row noteRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	n := row.toNote()
	return &n, nil
}

// ListNotes returns notes whose title contains titleFilter, newest first
func (s *SQLStore) ListNotes(titleFilter string) ([]Note, error) {
	var rows []noteRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(rows))
	for i := range rows {
		if n := rows[i].toNote(); titleFilter == "" || containsFold(n.Title, titleFilter) {
			out = append(out, n)
		}
	}
	sortNotes(out)
	return out, nil
}

// DeleteNote removes a secure note
func (s *SQLStore) DeleteNote(id string) error {
	return s.db.Where("id = ?", id).Delete(&noteRow{}).Error
}

// ExportAll returns every entry row
func (s *SQLStore) ExportAll() (*Dump, error) {
	d := &Dump{
		Credentials: []Credential{},
		History:     []HistoryRecord{},
		Notes:       []Note{},
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var creds []credentialRow
		if err := tx.Order("id").Find(&creds).Error; err != nil {
			return err
		}
		for i := range creds {
			d.Credentials = append(d.Credentials, creds[i].toCredential())
		}

		var history []historyRow
		if err := tx.Order("credential_id, seq").Find(&history).Error; err != nil {
			return err
		}
		for i := range history {
			d.History = append(d.History, history[i].toRecord())
		}

		var notes []noteRow
		if err := tx.Order("id").Find(&notes).Error; err != nil {
			return err
		}
		for i := range notes {
			d.Notes = append(d.Notes, notes[i].toNote())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	return d, nil
}

func exists(tx *gorm.DB, model any, id string) (bool, error) {
	var n int64
	if err := tx.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// ImportAll writes rows whose ids are not already present
func (s *SQLStore) ImportAll(d *Dump) (*ImportCounts, error) {
	counts := &ImportCounts{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		*counts = ImportCounts{}
		imported := make(map[string]bool)
		for i := range d.Credentials {
			c := d.Credentials[i]
			found, err := exists(tx, &credentialRow{}, c.ID)
			if err != nil {
				return err
			}
			if found {
				counts.Skipped++
				continue
			}
			c.Tags = normalizeTags(c.Tags)
			row := toCredentialRow(&c)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			imported[c.ID] = true
			counts.Credentials++
		}

		n, err := insertHistory(tx, d.History, imported)
		if err != nil {
			return err
		}
		counts.History = n

		for i := range d.Notes {
			note := d.Notes[i]
			found, err := exists(tx, &noteRow{}, note.ID)
			if err != nil {
				return err
			}
			if found {
				counts.Skipped++
				continue
			}
			row := toNoteRow(&note)
			if err := tx.Create(&row).Error; err != nil {
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

// insertHistory appends records for accepted credentials, oldest first
func insertHistory(tx *gorm.DB, records []HistoryRecord, accept map[string]bool) (int, error) {
	touched := make(map[string]bool)
	n := 0
	for i := range records {
		rec := records[i]
		if !accept[rec.CredentialID] {
			continue
		}
		taken := false
		if rec.ID != "" {
			var err error
			if taken, err = exists(tx, &historyRow{}, rec.ID); err != nil {
				return n, err
			}
		}
		if rec.ID == "" || taken {
			rec.ID = uuid.NewString()
		}
		if err := appendHistoryRow(tx, &rec); err != nil {
			return n, err
		}
		touched[rec.CredentialID] = true
		n++
	}
	for id := range touched {
		if err := pruneHistoryRows(tx, id); err != nil {
			return n, err
		}
	}
	return n, nil
}

func clearTables(tx *gorm.DB) error {
	for _, table := range []string{"credential_history", "credentials", "secure_notes", "master_settings"} {
		if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// ReplaceAll swaps settings and all rows in one transaction
func (s *SQLStore) ReplaceAll(ms *MasterSettings, d *Dump) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := clearTables(tx); err != nil {
			return err
		}
		if err := saveSettings(tx, ms); err != nil {
			return err
		}
		ids := make(map[string]bool, len(d.Credentials))
		for i := range d.Credentials {
			row := toCredentialRow(&d.Credentials[i])
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			ids[row.ID] = true
		}
		if _, err := insertHistory(tx, d.History, ids); err != nil {
			return err
		}
		for i := range d.Notes {
			row := toNoteRow(&d.Notes[i])
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Statistics aggregates counts over the whole vault
func (s *SQLStore) Statistics(now time.Time) (*Statistics, error) {
	creds, err := s.credentials("")
	if err != nil {
		return nil, err
	}
	var notes int64
	if err := s.db.Model(&noteRow{}).Count(&notes).Error; err != nil {
		return nil, err
	}
	return computeStatistics(creds, int(notes), now), nil
}

// Reset removes all data including master settings
func (s *SQLStore) Reset() error {
	return s.db.Transaction(clearTables)
}

// Compact rebuilds the database file to reclaim unused space
func (s *SQLStore) Compact() error {
	if err := s.db.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
