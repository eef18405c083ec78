package core

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/illarion/passvault/internal/crypto"
	"github.com/illarion/passvault/internal/storage"
)

const masterPassword = "Tr0ub4dor&3"

type testVault struct {
	*Manager
	store storage.Store
	clock *clockwork.FakeClock
}

func newTestVault(t *testing.T, backend string) *testVault {
	t.Helper()
	store, err := storage.OpenBackend(backend, filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	m, err := New(Options{
		Store:       store,
		Clock:       clock,
		Logger:      zaptest.NewLogger(t),
		IdleTimeout: 15 * time.Minute,
		Iterations:  crypto.MinIterations,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return &testVault{Manager: m, store: store, clock: clock}
}

func newUnlockedVault(t *testing.T) *testVault {
	t.Helper()
	v := newTestVault(t, storage.BackendBolt)
	require.NoError(t, v.SetupMasterPassword(masterPassword))
	return v
}

func strPtr(s string) *string { return &s }

func TestEndToEnd(t *testing.T) {
	for _, backend := range []string{storage.BackendBolt, storage.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			v := newTestVault(t, backend)

			has, err := v.HasMasterPassword()
			require.NoError(t, err)
			assert.False(t, has)

			require.NoError(t, v.SetupMasterPassword(masterPassword))
			has, err = v.HasMasterPassword()
			require.NoError(t, err)
			assert.True(t, has)

			id, err := v.AddCredential(CredentialInput{
				Domain:   "example.com",
				Username: "a@b.com",
				Password: "hunter2",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			list, err := v.GetCredentials("")
			require.NoError(t, err)
			require.Len(t, list.Credentials, 1)
			assert.Equal(t, "example.com", list.Credentials[0].Domain)
			assert.Equal(t, "hunter2", list.Credentials[0].Password)
			assert.Equal(t, id, list.Credentials[0].ID)

			v.Lock()
			_, err = v.GetCredentials("")
			assert.ErrorIs(t, err, ErrVaultLocked)
			assert.Equal(t, KindVaultLocked, ErrorKind(err))

			require.NoError(t, v.Unlock(masterPassword))
			list, err = v.GetCredentials("")
			require.NoError(t, err)
			require.Len(t, list.Credentials, 1)
			assert.Equal(t, "hunter2", list.Credentials[0].Password)
		})
	}
}

func TestSetupRejectsWeakPassword(t *testing.T) {
	v := newTestVault(t, storage.BackendBolt)

	err := v.SetupMasterPassword("password")
	assert.ErrorIs(t, err, ErrWeakPassword)
	assert.Equal(t, KindWeakPassword, ErrorKind(err))

	has, err := v.HasMasterPassword()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, v.SetupMasterPassword(masterPassword))
	assert.ErrorIs(t, v.SetupMasterPassword(masterPassword), ErrAlreadyInitialized)
}

func TestUnlockWrongPassword(t *testing.T) {
	v := newUnlockedVault(t)
	v.Lock()

	err := v.Unlock("wrong")
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
	assert.Equal(t, "incorrect master password", err.Error())
	assert.True(t, v.IsLocked())
}

func TestLockedOperationsLeaveStorageUnchanged(t *testing.T) {
	v := newUnlockedVault(t)
	id, err := v.AddCredential(CredentialInput{Domain: "example.com", Password: "hunter2"})
	require.NoError(t, err)
	v.Lock()

	_, err = v.AddCredential(CredentialInput{Domain: "other.com", Password: "x"})
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = v.GetCredentials("")
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.ErrorIs(t, v.DeleteCredential(id), ErrVaultLocked)
	_, err = v.AddNote(NoteInput{Title: "t", Content: "c"})
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = v.GetStatistics()
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = v.ExportData()
	assert.ErrorIs(t, err, ErrVaultLocked)

	rows, err := v.store.ListCredentials("")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	notes, err := v.store.ListNotes("")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestAddCredentialValidation(t *testing.T) {
	v := newUnlockedVault(t)

	_, err := v.AddCredential(CredentialInput{Domain: "  ", Password: "x"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindValidation, ErrorKind(err))

	_, err = v.AddCredential(CredentialInput{Domain: "example.com"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetCredentialNotFound(t *testing.T) {
	v := newUnlockedVault(t)
	_, err := v.GetCredential("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = v.UpdateCredential("missing", CredentialUpdate{Username: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, ErrorKind(err))
}

func TestNothingPlaintextAtRest(t *testing.T) {
	v := newUnlockedVault(t)
	id, err := v.AddCredential(CredentialInput{
		Domain:   "example.com",
		Password: "hunter2",
		Notes:    "security answer",
	})
	require.NoError(t, err)

	row, err := v.store.GetCredential(id)
	require.NoError(t, err)
	assert.NotContains(t, string(row.EncryptedPassword), "hunter2")
	assert.NotContains(t, string(row.EncryptedNotes), "security answer")
	assert.Len(t, row.EncryptedPassword, crypto.Overhead+len("hunter2"))
	assert.NotEmpty(t, row.Fingerprint)
}

func TestUpdateCredentialHistory(t *testing.T) {
	v := newUnlockedVault(t)
	id, err := v.AddCredential(CredentialInput{Domain: "example.com", Password: "pw-0-initial"})
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		v.clock.Advance(time.Minute)
		_, err := v.UpdateCredential(id, CredentialUpdate{Password: strPtr(fmt.Sprintf("completely-new-%02d", i))})
		require.NoError(t, err)
	}

	history, err := v.GetPasswordHistory(id)
	require.NoError(t, err)
	require.Len(t, history, storage.MaxHistory)
	assert.Equal(t, "completely-new-09", history[0].Password)
	assert.Equal(t, "completely-new-05", history[4].Password)

	got, err := v.GetCredential(id)
	require.NoError(t, err)
	assert.Equal(t, "completely-new-10", got.Password)
}

func TestUpdateCredentialFields(t *testing.T) {
	v := newUnlockedVault(t)
	id, err := v.AddCredential(CredentialInput{
		Domain:   "example.com",
		Username: "old",
		Password: "hunter2",
		Tags:     []string{"work"},
	})
	require.NoError(t, err)

	res, err := v.UpdateCredential(id, CredentialUpdate{
		Username: strPtr("new"),
		Notes:    strPtr("note"),
		Tags:     []string{},
		Password: strPtr("hunter2"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	got, err := v.GetCredential(id)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Username)
	assert.Equal(t, "note", got.Notes)
	assert.Empty(t, got.Tags)
	assert.Equal(t, "hunter2", got.Password)

	// Same password does not create history
	history, err := v.GetPasswordHistory(id)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = v.UpdateCredential(id, CredentialUpdate{Domain: strPtr("")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPasswordReuseWarnings(t *testing.T) {
	v := newUnlockedVault(t)
	id, err := v.AddCredential(CredentialInput{Domain: "example.com", Password: "Summer2024!"})
	require.NoError(t, err)

	res, err := v.UpdateCredential(id, CredentialUpdate{Password: strPtr("Summer2025!")})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "similar")

	res, err = v.UpdateCredential(id, CredentialUpdate{Password: strPtr("x9$Qv!mZ2#rT")})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	res, err = v.UpdateCredential(id, CredentialUpdate{Password: strPtr("Summer2024!")})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "used before")
}

func TestSearchAndFilter(t *testing.T) {
	v := newUnlockedVault(t)
	for _, in := range []CredentialInput{
		{Domain: "mail.example.com", Username: "alice", Password: "p1-long-enough"},
		{Domain: "github.com", Username: "example-bot", Password: "p2-long-enough"},
		{Domain: "gitlab.com", Username: "carol", Password: "p3-long-enough"},
	} {
		_, err := v.AddCredential(in)
		require.NoError(t, err)
	}

	list, err := v.GetCredentials("EXAMPLE")
	require.NoError(t, err)
	assert.Len(t, list.Credentials, 1)

	list, err = v.SearchCredentials("example")
	require.NoError(t, err)
	assert.Len(t, list.Credentials, 2)
}

func TestCorruptedEntryIsSkipped(t *testing.T) {
	v := newUnlockedVault(t)
	good, err := v.AddCredential(CredentialInput{Domain: "good.com", Password: "fine"})
	require.NoError(t, err)
	bad, err := v.AddCredential(CredentialInput{Domain: "bad.com", Password: "broken"})
	require.NoError(t, err)

	row, err := v.store.GetCredential(bad)
	require.NoError(t, err)
	row.EncryptedPassword[len(row.EncryptedPassword)-1] ^= 0x01
	require.NoError(t, v.store.SaveCredential(row))

	list, err := v.GetCredentials("")
	require.NoError(t, err)
	require.Len(t, list.Credentials, 1)
	assert.Equal(t, good, list.Credentials[0].ID)
	assert.Equal(t, []string{bad}, list.Skipped)

	_, err = v.GetCredential(bad)
	assert.ErrorIs(t, err, ErrDecryptionFailure)
	assert.Equal(t, KindDecryption, ErrorKind(err))
}

func TestFindDuplicatesAcrossCiphertexts(t *testing.T) {
	v := newUnlockedVault(t)
	a, err := v.AddCredential(CredentialInput{Domain: "a.com", Password: "shared-secret"})
	require.NoError(t, err)
	b, err := v.AddCredential(CredentialInput{Domain: "b.com", Password: "shared-secret"})
	require.NoError(t, err)
	_, err = v.AddCredential(CredentialInput{Domain: "c.com", Password: "unique-secret"})
	require.NoError(t, err)

	ra, err := v.store.GetCredential(a)
	require.NoError(t, err)
	rb, err := v.store.GetCredential(b)
	require.NoError(t, err)
	assert.NotEqual(t, ra.EncryptedPassword, rb.EncryptedPassword)

	groups, err := v.FindDuplicates()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
	assert.Equal(t, a, groups[0][0].ID)
	assert.Equal(t, b, groups[0][1].ID)

	stats, err := v.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCredentials)
	assert.Equal(t, 1, stats.DuplicateGroups)
}

func TestRecordUsageAndStatistics(t *testing.T) {
	v := newUnlockedVault(t)
	id, err := v.AddCredential(CredentialInput{Domain: "a.com", Password: "x", Tags: []string{"work"}})
	require.NoError(t, err)
	_, err = v.AddNote(NoteInput{Title: "wifi", Content: "secret"})
	require.NoError(t, err)

	require.NoError(t, v.RecordUsage(id))
	assert.ErrorIs(t, v.RecordUsage("missing"), ErrNotFound)

	stats, err := v.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCredentials)
	assert.Equal(t, 1, stats.TotalNotes)
	assert.Equal(t, 1, stats.RecentlyUsed)
	assert.Equal(t, []string{"work"}, stats.Tags)

	got, err := v.GetCredential(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UseCount)
}

func TestNotes(t *testing.T) {
	v := newUnlockedVault(t)
	_, err := v.AddNote(NoteInput{Title: " ", Content: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	id, err := v.AddNote(NoteInput{Title: "Wifi", Content: "password123"})
	require.NoError(t, err)

	require.NoError(t, v.UpdateNote(id, NoteInput{Title: "Home Wifi", Content: "new-password"}))
	n, err := v.GetNote(id)
	require.NoError(t, err)
	assert.Equal(t, "Home Wifi", n.Title)
	assert.Equal(t, "new-password", n.Content)

	list, err := v.GetNotes("home")
	require.NoError(t, err)
	require.Len(t, list.Notes, 1)

	require.NoError(t, v.DeleteNote(id))
	_, err = v.GetNote(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChangeMasterPassword(t *testing.T) {
	v := newUnlockedVault(t)
	id, err := v.AddCredential(CredentialInput{Domain: "example.com", Password: "hunter2", Notes: "n"})
	require.NoError(t, err)
	_, err = v.UpdateCredential(id, CredentialUpdate{Password: strPtr("hunter3-different")})
	require.NoError(t, err)
	dupe, err := v.AddCredential(CredentialInput{Domain: "other.com", Password: "hunter3-different"})
	require.NoError(t, err)
	noteID, err := v.AddNote(NoteInput{Title: "t", Content: "c"})
	require.NoError(t, err)

	before, err := v.store.Settings()
	require.NoError(t, err)

	assert.ErrorIs(t, v.ChangeMasterPassword("wrong", "N3w-Passw0rd!"), ErrAuthenticationFailure)
	assert.ErrorIs(t, v.ChangeMasterPassword(masterPassword, "weak"), ErrWeakPassword)

	require.NoError(t, v.ChangeMasterPassword(masterPassword, "N3w-Passw0rd!"))

	after, err := v.store.Settings()
	require.NoError(t, err)
	assert.NotEqual(t, before.Salt, after.Salt)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))

	// Still unlocked under the new key
	got, err := v.GetCredential(id)
	require.NoError(t, err)
	assert.Equal(t, "hunter3-different", got.Password)
	assert.Equal(t, "n", got.Notes)

	v.Lock()
	assert.ErrorIs(t, v.Unlock(masterPassword), ErrAuthenticationFailure)
	require.NoError(t, v.Unlock("N3w-Passw0rd!"))

	history, err := v.GetPasswordHistory(id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hunter2", history[0].Password)

	note, err := v.GetNote(noteID)
	require.NoError(t, err)
	assert.Equal(t, "c", note.Content)

	groups, err := v.FindDuplicates()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{id, dupe}, []string{groups[0][0].ID, groups[0][1].ID})
}

func TestResetVault(t *testing.T) {
	v := newUnlockedVault(t)
	_, err := v.AddCredential(CredentialInput{Domain: "example.com", Password: "hunter2"})
	require.NoError(t, err)

	require.NoError(t, v.ResetVault())
	has, err := v.HasMasterPassword()
	require.NoError(t, err)
	assert.False(t, has)
	assert.True(t, v.IsLocked())

	st, err := v.Status()
	require.NoError(t, err)
	assert.False(t, st.Initialized)
	assert.Equal(t, "uninitialized", st.State)

	require.NoError(t, v.SetupMasterPassword("An0ther-Secret"))
	list, err := v.GetCredentials("")
	require.NoError(t, err)
	assert.Empty(t, list.Credentials)
}

func TestStatus(t *testing.T) {
	v := newUnlockedVault(t)
	st, err := v.Status()
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.False(t, st.Locked)
	assert.Equal(t, crypto.MinIterations, st.KDFIterations)
	assert.Equal(t, "AES-256-GCM", st.Algorithm)

	v.Lock()
	st, err = v.Status()
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, "locked", st.State)
}

func TestIdleAutoLock(t *testing.T) {
	v := newUnlockedVault(t)

	v.clock.Advance(14 * time.Minute)
	_, err := v.GetCredentials("")
	require.NoError(t, err)

	v.clock.Advance(14 * time.Minute)
	assert.False(t, v.IsLocked())

	v.clock.Advance(2 * time.Minute)
	require.Eventually(t, v.IsLocked, time.Second, 5*time.Millisecond)

	_, err = v.GetCredentials("")
	assert.ErrorIs(t, err, ErrVaultLocked)
}

func TestLockDuringReadsIsSafe(t *testing.T) {
	v := newUnlockedVault(t)
	for i := 0; i < 5; i++ {
		_, err := v.AddCredential(CredentialInput{Domain: fmt.Sprintf("site%d.com", i), Password: "pw"})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := v.GetCredentials("")
			if err != nil {
				assert.ErrorIs(t, err, ErrVaultLocked)
				return
			}
			assert.Empty(t, list.Skipped)
			for _, c := range list.Credentials {
				assert.Equal(t, "pw", c.Password)
			}
		}()
	}
	v.Lock()
	wg.Wait()
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, KindInternal, ErrorKind(fmt.Errorf("boom")))
	assert.Equal(t, KindStorage, ErrorKind(storageErr(fmt.Errorf("disk full"))))
	assert.Equal(t, KindNotFound, ErrorKind(storageErr(storage.ErrNotFound)))
	assert.Equal(t, KindNotInitialized, ErrorKind(ErrNotInitialized))
}
