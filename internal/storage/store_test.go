package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type opener func(t *testing.T, path string, clock *testClock) Store

var backends = map[string]opener{
	BackendBolt: func(t *testing.T, path string, clock *testClock) Store {
		s, err := Open(path, WithNow(clock.Now))
		require.NoError(t, err)
		return s
	},
	BackendSQLite: func(t *testing.T, path string, clock *testClock) Store {
		s, err := OpenSQL(path, WithNow(clock.Now))
		require.NoError(t, err)
		return s
	},
}

// forEachBackend runs fn against a fresh store of every backend
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, clock *testClock)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
			s := open(t, filepath.Join(t.TempDir(), "vault.db"), clock)
			t.Cleanup(func() { s.Close() })
			fn(t, s, clock)
		})
	}
}

func newCredential(domain, username string, blob []byte) *Credential {
	return &Credential{
		ID:                uuid.NewString(),
		Domain:            domain,
		Username:          username,
		EncryptedPassword: blob,
	}
}

func testSettings(at time.Time) *MasterSettings {
	return &MasterSettings{
		Salt:           []byte("test-salt-32-bytes-long-exactly!"),
		Iterations:     100000,
		Verifier:       []byte("verifier-blob"),
		CreatedAt:      at,
		LastAccessedAt: at,
	}
}

func TestSettingsLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		_, err := s.Settings()
		require.ErrorIs(t, err, ErrNotInitialized)
		require.ErrorIs(t, s.TouchSettings(clock.Now()), ErrNotInitialized)

		require.NoError(t, s.SaveSettings(testSettings(clock.Now())))

		ms, err := s.Settings()
		require.NoError(t, err)
		assert.Equal(t, []byte("test-salt-32-bytes-long-exactly!"), ms.Salt)
		assert.Equal(t, 100000, ms.Iterations)
		assert.Equal(t, []byte("verifier-blob"), ms.Verifier)
		assert.True(t, ms.CreatedAt.Equal(clock.Now()))

		clock.Advance(time.Hour)
		require.NoError(t, s.TouchSettings(clock.Now()))
		ms, err = s.Settings()
		require.NoError(t, err)
		assert.True(t, ms.LastAccessedAt.Equal(clock.Now()))
		assert.True(t, ms.CreatedAt.Before(ms.LastAccessedAt))
	})
}

func TestSaveAndGetCredential(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("example.com", "a@b.com", []byte("blob-1"))
		c.Tags = []string{"work", " work ", "", "email"}
		require.NoError(t, s.SaveCredential(c))
		assert.Equal(t, []string{"email", "work"}, c.Tags)
		assert.True(t, c.CreatedAt.Equal(clock.Now()))

		got, err := s.GetCredential(c.ID)
		require.NoError(t, err)
		assert.Equal(t, "example.com", got.Domain)
		assert.Equal(t, "a@b.com", got.Username)
		assert.Equal(t, []byte("blob-1"), got.EncryptedPassword)
		assert.Equal(t, []string{"email", "work"}, got.Tags)
		assert.True(t, got.LastUsedAt.IsZero())

		_, err = s.GetCredential("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("example.com", "user", []byte("blob-1"))
		require.NoError(t, s.SaveCredential(c))
		created := c.CreatedAt

		clock.Advance(time.Minute)
		c.Username = "renamed"
		c.CreatedAt = time.Time{}
		require.NoError(t, s.SaveCredential(c))

		got, err := s.GetCredential(c.ID)
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(created))
		assert.True(t, got.ModifiedAt.Equal(clock.Now()))
		assert.Equal(t, "renamed", got.Username)

		// Same password blob, no history
		history, err := s.History(c.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestHistoryRetention(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("example.com", "user", []byte("pw-0"))
		require.NoError(t, s.SaveCredential(c))

		for i := 1; i <= 10; i++ {
			clock.Advance(time.Second)
			c.EncryptedPassword = []byte(fmt.Sprintf("pw-%d", i))
			require.NoError(t, s.SaveCredential(c))
		}

		history, err := s.History(c.ID)
		require.NoError(t, err)
		require.Len(t, history, MaxHistory)

		// Newest first: pw-9 was replaced by pw-10
		for i, rec := range history {
			assert.Equal(t, []byte(fmt.Sprintf("pw-%d", 9-i)), rec.EncryptedOldPassword)
			assert.Equal(t, c.ID, rec.CredentialID)
			assert.NotEmpty(t, rec.ID)
		}
	})
}

func TestHistoryOrderWithEqualTimestamps(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("example.com", "user", []byte("a"))
		require.NoError(t, s.SaveCredential(c))
		for _, pw := range []string{"b", "c", "d"} {
			c.EncryptedPassword = []byte(pw)
			require.NoError(t, s.SaveCredential(c))
		}

		history, err := s.History(c.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []byte("c"), history[0].EncryptedOldPassword)
		assert.Equal(t, []byte("b"), history[1].EncryptedOldPassword)
		assert.Equal(t, []byte("a"), history[2].EncryptedOldPassword)
	})
}

func TestDeleteCascadesHistory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("example.com", "user", []byte("pw-1"))
		require.NoError(t, s.SaveCredential(c))
		c.EncryptedPassword = []byte("pw-2")
		require.NoError(t, s.SaveCredential(c))

		require.NoError(t, s.DeleteCredential(c.ID))

		_, err := s.GetCredential(c.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		history, err := s.History(c.ID)
		require.NoError(t, err)
		assert.Empty(t, history)

		dump, err := s.ExportAll()
		require.NoError(t, err)
		assert.Empty(t, dump.History)

		// Missing ids are not an error
		assert.NoError(t, s.DeleteCredential(c.ID))
	})
}

func TestListOrderingAndFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		a := newCredential("mail.example.com", "alice", []byte("1"))
		require.NoError(t, s.SaveCredential(a))
		clock.Advance(time.Minute)
		b := newCredential("github.com", "bob", []byte("2"))
		require.NoError(t, s.SaveCredential(b))
		clock.Advance(time.Minute)
		c := newCredential("EXAMPLE.org", "carol", []byte("3"))
		require.NoError(t, s.SaveCredential(c))

		all, err := s.ListCredentials("")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(all))

		// Use moves a to the front
		clock.Advance(time.Minute)
		require.NoError(t, s.RecordUsage(a.ID, clock.Now()))
		all, err = s.ListCredentials("")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids(all))

		filtered, err := s.ListCredentials("Example")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, c.ID}, ids(filtered))

		none, err := s.ListCredentials("nothing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestSearchDomainOrUsername(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		a := newCredential("example.com", "alice", []byte("1"))
		b := newCredential("github.com", "Example-Bot", []byte("2"))
		c := newCredential("gitlab.com", "carol", []byte("3"))
		for _, cred := range []*Credential{a, b, c} {
			clock.Advance(time.Second)
			require.NoError(t, s.SaveCredential(cred))
		}

		found, err := s.SearchCredentials("EXAMPLE")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ID, b.ID}, ids(found))
		assert.Equal(t, b.ID, found[0].ID)

		found, err = s.SearchCredentials("git")
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})
}

func TestFiltersFoldNonASCII(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("BÜCHER.de", "ÉLODIE", []byte("1"))
		require.NoError(t, s.SaveCredential(c))
		clock.Advance(time.Second)
		require.NoError(t, s.SaveCredential(newCredential("example.com", "bob", []byte("2"))))
		n := &Note{ID: uuid.NewString(), Title: "Ärztekammer", EncryptedContent: []byte("x")}
		require.NoError(t, s.SaveNote(n))

		listed, err := s.ListCredentials("bücher")
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID}, ids(listed))

		found, err := s.SearchCredentials("élodie")
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID}, ids(found))

		notes, err := s.ListNotes("ärzte")
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, n.ID, notes[0].ID)
	})
}

func TestRecordUsage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("example.com", "user", []byte("1"))
		require.NoError(t, s.SaveCredential(c))

		for i := 0; i < 3; i++ {
			clock.Advance(time.Minute)
			require.NoError(t, s.RecordUsage(c.ID, clock.Now()))
		}

		got, err := s.GetCredential(c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.UseCount)
		assert.True(t, got.LastUsedAt.Equal(clock.Now()))

		assert.ErrorIs(t, s.RecordUsage("missing", clock.Now()), ErrNotFound)
	})
}

func TestFindDuplicateGroups(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		shared := []byte("fp-shared")
		a := newCredential("a.com", "u", []byte("ct-a"))
		a.Fingerprint = shared
		b := newCredential("b.com", "u", []byte("ct-b"))
		b.Fingerprint = shared
		c := newCredential("c.com", "u", []byte("ct-c"))
		c.Fingerprint = []byte("fp-unique")
		d := newCredential("d.com", "u", []byte("ct-a"))
		for _, cred := range []*Credential{a, b, c, d} {
			require.NoError(t, s.SaveCredential(cred))
		}

		groups, err := s.FindDuplicateCredentialGroups()
		require.NoError(t, err)
		require.Len(t, groups, 1)
		require.Len(t, groups[0], 2)
		assert.Equal(t, "a.com", groups[0][0].Domain)
		assert.Equal(t, "b.com", groups[0][1].Domain)
	})
}

func TestNotesCRUD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		n1 := &Note{ID: uuid.NewString(), Title: "Wifi", EncryptedContent: []byte("c1")}
		require.NoError(t, s.SaveNote(n1))
		clock.Advance(time.Minute)
		n2 := &Note{ID: uuid.NewString(), Title: "Bank PIN", EncryptedContent: []byte("c2")}
		require.NoError(t, s.SaveNote(n2))

		notes, err := s.ListNotes("")
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, n2.ID, notes[0].ID)

		notes, err = s.ListNotes("wifi")
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, n1.ID, notes[0].ID)

		clock.Advance(time.Minute)
		n1.EncryptedContent = []byte("c1-updated")
		require.NoError(t, s.SaveNote(n1))
		got, err := s.GetNote(n1.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("c1-updated"), got.EncryptedContent)
		assert.True(t, got.ModifiedAt.After(got.CreatedAt))

		require.NoError(t, s.DeleteNote(n1.ID))
		_, err = s.GetNote(n1.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestExportImportSkipsExisting(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		c := newCredential("example.com", "user", []byte("pw-1"))
		require.NoError(t, s.SaveCredential(c))
		c.EncryptedPassword = []byte("pw-2")
		require.NoError(t, s.SaveCredential(c))
		n := &Note{ID: uuid.NewString(), Title: "t", EncryptedContent: []byte("x")}
		require.NoError(t, s.SaveNote(n))

		dump, err := s.ExportAll()
		require.NoError(t, err)
		assert.Len(t, dump.Credentials, 1)
		assert.Len(t, dump.History, 1)
		assert.Len(t, dump.Notes, 1)

		counts, err := s.ImportAll(dump)
		require.NoError(t, err)
		assert.Equal(t, ImportCounts{Skipped: 2}, *counts)

		history, err := s.History(c.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)

		// Into an empty store of the same backend
		other := &Dump{
			Credentials: []Credential{*newCredential("new.com", "u", []byte("n"))},
			History:     dump.History,
		}
		other.History[0].CredentialID = other.Credentials[0].ID
		counts, err = s.ImportAll(other)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Credentials)
		assert.Equal(t, 1, counts.History)

		history, err = s.History(other.Credentials[0].ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestReplaceAll(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		require.NoError(t, s.SaveSettings(testSettings(clock.Now())))
		old := newCredential("old.com", "u", []byte("o"))
		require.NoError(t, s.SaveCredential(old))

		fresh := *newCredential("fresh.com", "u", []byte("f"))
		fresh.CreatedAt = clock.Now()
		fresh.ModifiedAt = clock.Now()
		ms := testSettings(clock.Now())
		ms.Salt = []byte("another-salt-32-bytes-long-exact")
		require.NoError(t, s.ReplaceAll(ms, &Dump{
			Credentials: []Credential{fresh},
			History: []HistoryRecord{{
				ID:                   uuid.NewString(),
				CredentialID:         fresh.ID,
				EncryptedOldPassword: []byte("prev"),
				ChangedAt:            clock.Now(),
			}},
		}))

		got, err := s.Settings()
		require.NoError(t, err)
		assert.Equal(t, ms.Salt, got.Salt)

		all, err := s.ListCredentials("")
		require.NoError(t, err)
		assert.Equal(t, []string{fresh.ID}, ids(all))

		history, err := s.History(fresh.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestStatistics(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		a := newCredential("a.com", "u", []byte("1"))
		a.Tags = []string{"work"}
		a.Fingerprint = []byte("same")
		b := newCredential("b.com", "u", []byte("2"))
		b.Tags = []string{"home", "work"}
		b.Fingerprint = []byte("same")
		c := newCredential("c.com", "u", []byte("3"))
		for _, cred := range []*Credential{a, b, c} {
			require.NoError(t, s.SaveCredential(cred))
		}
		require.NoError(t, s.SaveNote(&Note{ID: uuid.NewString(), Title: "n", EncryptedContent: []byte("x")}))

		require.NoError(t, s.RecordUsage(a.ID, clock.Now().Add(-8*24*time.Hour)))
		require.NoError(t, s.RecordUsage(b.ID, clock.Now().Add(-time.Hour)))

		stats, err := s.Statistics(clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalCredentials)
		assert.Equal(t, 1, stats.TotalNotes)
		assert.Equal(t, 1, stats.RecentlyUsed)
		assert.Equal(t, 1, stats.DuplicateGroups)
		assert.Equal(t, []string{"home", "work"}, stats.Tags)
	})
}

func TestResetAndCompact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		require.NoError(t, s.SaveSettings(testSettings(clock.Now())))
		for i := 0; i < 20; i++ {
			require.NoError(t, s.SaveCredential(newCredential(fmt.Sprintf("site%d.com", i), "u", []byte("x"))))
		}

		require.NoError(t, s.Compact())
		all, err := s.ListCredentials("")
		require.NoError(t, err)
		assert.Len(t, all, 20)

		require.NoError(t, s.Reset())
		_, err = s.Settings()
		assert.ErrorIs(t, err, ErrNotInitialized)
		all, err = s.ListCredentials("")
		require.NoError(t, err)
		assert.Empty(t, all)

		require.NoError(t, s.Compact())
	})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
			path := filepath.Join(t.TempDir(), "vault.db")

			s := open(t, path, clock)
			require.NoError(t, s.SaveSettings(testSettings(clock.Now())))
			c := newCredential("example.com", "user", []byte("pw"))
			require.NoError(t, s.SaveCredential(c))
			require.NoError(t, s.Close())

			s = open(t, path, clock)
			defer s.Close()
			_, err := s.Settings()
			require.NoError(t, err)
			got, err := s.GetCredential(c.ID)
			require.NoError(t, err)
			assert.Equal(t, []byte("pw"), got.EncryptedPassword)
		})
	}
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenBackend("", filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	require.NoError(t, s.Close())

	s, err = OpenBackend(BackendSQLite, filepath.Join(dir, "b.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = OpenBackend("postgres", filepath.Join(dir, "c.db"))
	assert.Error(t, err)
}

func ids(creds []Credential) []string {
	out := make([]string, len(creds))
	for i, c := range creds {
		out[i] = c.ID
	}
	return out
}
