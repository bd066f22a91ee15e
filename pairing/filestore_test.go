package pairing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTripPlaintext(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	record := Record{HostID: "ABC", SystemBUID: "XYZ", HostCertificate: []byte("cert")}
	require.NoError(t, store.Save("udid-1", record))

	got, ok, err := store.Load("udid-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record, got)
}

func TestFileStoreRoundTripEncrypted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, []byte("a passphrase that is long enough"))
	require.NoError(t, err)

	record := Record{HostID: "ABC", SystemBUID: "XYZ", DeviceCertificate: []byte("device cert bytes")}
	require.NoError(t, store.Save("udid-2", record))

	got, ok, err := store.Load("udid-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record, got)
}

func TestFileStoreLoadMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	_, ok, err := store.Load("does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}
