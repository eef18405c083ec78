package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/storage"
)

// Note is a decrypted secure note
type Note struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// NoteInput holds the fields of a note
type NoteInput struct {
	Title   string
	Content string
}

// NoteList is the result of listing notes
type NoteList struct {
	Notes   []Note   `json:"notes"`
	Skipped []string `json:"skipped,omitempty"`
}

func decryptNote(key []byte, n *storage.Note) (*Note, error) {
	content, err := openOptional(key, n.EncryptedContent)
	if err != nil {
		return nil, decryptErr("note "+n.ID, err)
	}
	return &Note{
		ID:         n.ID,
		Title:      n.Title,
		Content:    content,
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
	}, nil
}

func (in NoteInput) validate() (string, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", validationf("title is required")
	}
	return title, nil
}

// AddNote encrypts and stores a secure note, returning its id
func (m *Manager) AddNote(in NoteInput) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var id string
	err := m.withKey(func(key []byte) error {
		title, err := in.validate()
		if err != nil {
			return err
		}
		content, err := crypto.Encrypt(key, []byte(in.Content))
		if err != nil {
			return err
		}
		n := &storage.Note{ID: uuid.NewString(), Title: title, EncryptedContent: content}
		if err := m.store.SaveNote(n); err != nil {
			return storageErr(err)
		}
		id = n.ID
		return nil
	})
	return id, err
}

// GetNotes lists notes whose title contains titleFilter, newest first
func (m *Manager) GetNotes(titleFilter string) (*NoteList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list *NoteList
	err := m.withKey(func(key []byte) error {
		rows, err := m.store.ListNotes(titleFilter)
		if err != nil {
			return storageErr(err)
		}
		list = &NoteList{Notes: make([]Note, 0, len(rows))}
		for i := range rows {
			n, err := decryptNote(key, &rows[i])
			if err != nil {
				m.log.Warn("skipping unreadable note", zap.String("id", rows[i].ID))
				list.Skipped = append(list.Skipped, rows[i].ID)
				continue
			}
			list.Notes = append(list.Notes, *n)
		}
		return nil
	})
	return list, err
}

// GetNote returns one decrypted note
func (m *Manager) GetNote(id string) (*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out *Note
	err := m.withKey(func(key []byte) error {
		row, err := m.store.GetNote(id)
		if err != nil {
			return storageErr(err)
		}
		out, err = decryptNote(key, row)
		return err
	})
	return out, err
}

// UpdateNote replaces a note's title and content
func (m *Manager) UpdateNote(id string, in NoteInput) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.withKey(func(key []byte) error {
		title, err := in.validate()
		if err != nil {
			return err
		}
		row, err := m.store.GetNote(id)
		if err != nil {
			return storageErr(err)
		}
		row.Title = title
		if row.EncryptedContent, err = crypto.Encrypt(key, []byte(in.Content)); err != nil {
			return err
		}
		return storageErr(m.store.SaveNote(row))
	})
}

// DeleteNote removes a secure note
func (m *Manager) DeleteNote(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.unlocked(); err != nil {
		return err
	}
	return storageErr(m.store.DeleteNote(id))
}
