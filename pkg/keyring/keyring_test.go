package keyring

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFileKeyring(t *testing.T) *FileKeyring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyring.json")
	return NewFileKeyring(path, "test-master-password")
}

func TestFileKeyringSetGet(t *testing.T) {
	fk := testFileKeyring(t)

	require.NoError(t, fk.Set("svc", "alice", "s3cret"))

	value, err := fk.Get("svc", "alice")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)
}

func TestFileKeyringOverwrite(t *testing.T) {
	fk := testFileKeyring(t)

	require.NoError(t, fk.Set("svc", "alice", "old"))
	require.NoError(t, fk.Set("svc", "alice", "new"))

	value, err := fk.Get("svc", "alice")
	require.NoError(t, err)
	assert.Equal(t, "new", value)
}

func TestFileKeyringDelete(t *testing.T) {
	fk := testFileKeyring(t)

	require.NoError(t, fk.Set("svc", "alice", "s3cret"))
	require.NoError(t, fk.Delete("svc", "alice"))

	_, err := fk.Get("svc", "alice")
	assert.Error(t, err)

	// Deleting from a missing file is a no-op
	empty := NewFileKeyring(filepath.Join(t.TempDir(), "missing.json"), "pw")
	assert.NoError(t, empty.Delete("svc", "alice"))
}

func TestFileKeyringMissingEntry(t *testing.T) {
	fk := testFileKeyring(t)

	_, err := fk.Get("svc", "nobody")
	assert.Error(t, err)
}

func TestFileKeyringWrongMasterPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")

	fk := NewFileKeyring(path, "right-password")
	require.NoError(t, fk.Set("svc", "alice", "s3cret"))

	other := NewFileKeyring(path, "wrong-password")
	_, err := other.Get("svc", "alice")
	assert.Error(t, err)
}

func TestCredentials(t *testing.T) {
	fk := testFileKeyring(t)
	km := &KeyringManager{fileKeyring: fk, useFile: true}

	require.NoError(t, km.StoreCredentials("prod-gis", "gis_reader", "hunter2"))

	username, password, err := km.Credentials("prod-gis")
	require.NoError(t, err)
	assert.Equal(t, "gis_reader", username)
	assert.Equal(t, "hunter2", password)

	_, _, err = km.Credentials("unknown-ref")
	assert.Error(t, err)
}
