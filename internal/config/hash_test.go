package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBlake3Hash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	h1, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	require.NoError(t, VerifyFileHash(path, h1))
	require.NoError(t, os.WriteFile(path, []byte("abd"), 0o600))
	assert.Error(t, VerifyFileHash(path, h1))
}

func TestVerifyScopeFiles_UnlistedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("x"), 0o600))

	err := VerifyScopeFiles(dir, &ChecksumManifest{Version: 1, Hashes: map[string]string{}}, []string{"a.yaml", ".env"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hash")
}

func TestLoadChecksums_Version(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".checksums"), []byte("version: 2\nhashes: {}\n"), 0o600))

	_, err := LoadChecksums(dir)
	assert.Error(t, err)
}
