package keyring

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestPasswordLifecycle(t *testing.T) {
	keyring.MockInit()
	path := filepath.Join(t.TempDir(), "vault.db")

	assert.False(t, HasPassword(path))
	_, err := GetPassword(path)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SavePassword(path, "Tr0ub4dor&3"))
	assert.True(t, HasPassword(path))

	got, err := GetPassword(path)
	require.NoError(t, err)
	assert.Equal(t, "Tr0ub4dor&3", got)

	require.NoError(t, DeletePassword(path))
	assert.False(t, HasPassword(path))
	require.NoError(t, DeletePassword(path))
}

func TestEntriesAreKeyedByAbsolutePath(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.db")
	b := filepath.Join(dir, "b.db")

	require.NoError(t, SavePassword(a, "first"))
	require.NoError(t, SavePassword(b, "second"))

	got, err := GetPassword(a)
	require.NoError(t, err)
	assert.Equal(t, "first", got)
	got, err = GetPassword(b)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}
