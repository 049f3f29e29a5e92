package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.PollTimeout = 20 * time.Second
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "work", loaded.DefaultSession)
	assert.Equal(t, 20*time.Second, loaded.PollTimeout)
	assert.Equal(t, 5, loaded.ReceiveRetryCount)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("default_session = \"alt\"\nhot_reload = true\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alt", cfg.DefaultSession)
	assert.True(t, cfg.HotReload)
	assert.Equal(t, 35*time.Second, cfg.PollTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestResolveEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("default_session = \"file\"\nreceive_retry_count = 2\n"), 0600))
	t.Setenv("WXWEB_SESSION", "env")
	t.Setenv("WXWEB_POLL_TIMEOUT", "10s")

	cfg, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, "env", cfg.DefaultSession)
	assert.Equal(t, 10*time.Second, cfg.PollTimeout)
	assert.Equal(t, 2, cfg.ReceiveRetryCount)
}

func TestResolveWithoutFile(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ReceiveRetryCount)
}

func TestResolveRejectsNegativeRetry(t *testing.T) {
	t.Setenv("WXWEB_RETRY_COUNT", "-1")
	_, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Default()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
