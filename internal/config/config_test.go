package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	require.Equal(t, StoreSQLite, cfg.StoreBackend)
	require.Equal(t, SyncFile, cfg.SyncBackend)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, 64*1024, cfg.ChunkSize)
	require.Equal(t, 30*time.Second, cfg.MissingBackoff)
	require.Equal(t, 5*time.Minute, cfg.ErrorBackoff)
	require.Equal(t, uint64(4), cfg.PushRetries)
	require.Equal(t, 3, cfg.TransferWorkers)
}

func TestLoadConfigTomlAndSecrets(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
data_dir = "/tmp/mindwtr-data"
store_backend = "json"

[sync]
backend = "webdav"
request_timeout = "10s"
chunk_size = 1024

[webdav]
url = "https://dav.example.com/mindwtr"
username = "alice"
`), 0o600)
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "secrets.toml"), []byte(`
[webdav]
password = "hunter2"
`), 0o600)
	require.NoError(t, err)

	oldArgs := os.Args
	os.Args = []string{"mindwtr", "-c", dir}
	defer func() { os.Args = oldArgs }()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "/tmp/mindwtr-data", cfg.DataDir)
	require.Equal(t, StoreJSON, cfg.StoreBackend)
	require.Equal(t, SyncWebDAV, cfg.SyncBackend)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, 1024, cfg.ChunkSize)
	require.Equal(t, "https://dav.example.com/mindwtr", cfg.WebDAV.Url)
	require.Equal(t, "alice", cfg.WebDAV.Username)
	require.Equal(t, "hunter2", cfg.WebDAV.Password)
	// defaults survive where toml is silent
	require.Equal(t, 5*time.Minute, cfg.ErrorBackoff)
}

func TestLoadConfigFlagsOverrideToml(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[sync]
backend = "file"
path = "/srv/sync"
`), 0o600)
	require.NoError(t, err)

	oldArgs := os.Args
	os.Args = []string{"mindwtr", "-c", dir, "-p", "/mnt/other", "-s", "json"}
	defer func() { os.Args = oldArgs }()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "/mnt/other", cfg.SyncPath)
	require.Equal(t, StoreJSON, cfg.StoreBackend)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.SyncBackend = SyncWebDAV
	require.Error(t, cfg.Validate())

	cfg.WebDAV.Url = "https://dav.example.com"
	require.NoError(t, cfg.Validate())

	cfg.SyncBackend = "ftp"
	require.Error(t, cfg.Validate())
}
