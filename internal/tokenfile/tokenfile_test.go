package tokenfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoad_FileNotFound(t *testing.T) {
	tok, meta, err := Load("/nonexistent/path/token.json")
	assert.Nil(t, tok)
	assert.Nil(t, meta)
	assert.NoError(t, err)
}

func TestSaveLoad_DeviceToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &oauth2.Token{AccessToken: "dev-token", TokenType: "Bearer", Expiry: expiry}
	meta := map[string]string{MetaDeviceID: "dev_1", MetaUserEmail: "player@example.com"}

	require.NoError(t, Save(path, original, meta))

	tok, loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dev-token", tok.AccessToken)
	assert.True(t, tok.Expiry.Equal(expiry))
	assert.Equal(t, "dev_1", loaded[MetaDeviceID])
	assert.Equal(t, "player@example.com", loaded[MetaUserEmail])
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"meta":{"device_id":"x"}}`), 0o600))

	tok, meta, err := Load(path)
	assert.Nil(t, tok)
	assert.Nil(t, meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestSave_CreatesDirectoryWithOwnerOnlyPerms(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	path := filepath.Join(t.TempDir(), "nested", "state", "device.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestSave_NilToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	require.Error(t, Save(path, nil, nil))
	assert.NoFileExists(t, path)
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.json")

	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "one"}, nil))
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "two"}, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	tok, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "two", tok.AccessToken)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "device.json"))

	require.NoError(t, s.Save(&oauth2.Token{AccessToken: "a"}, map[string]string{MetaDeviceName: "desk"}))

	tok, meta, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "desk", meta[MetaDeviceName])

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	tok, _, err = s.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)
}
