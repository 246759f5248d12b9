package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/webinars")
	t.Setenv("ZOOM_CLIENT_ID", "cid")
	t.Setenv("SYNC_CHUNK_SIZE", "25")
	t.Setenv("SYNC_INTER_CHUNK_DELAY", "150ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/webinars", cfg.Database.DSN)
	assert.Equal(t, "cid", cfg.Zoom.ClientID)
	assert.Equal(t, 25, cfg.Sync.ChunkSize)
	assert.Equal(t, 150*time.Millisecond, cfg.Sync.InterChunkDelay)
	assert.Equal(t, 5, cfg.Sync.SettingsBatchSize)
	assert.Equal(t, 60*time.Second, cfg.Sync.TokenSkew)
	assert.Equal(t, "https://api.zoom.us/v2", cfg.Zoom.BaseURL)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "database:\n  driver: sqlite\n  dsn: file::memory:\nsync:\n  chunk_size: 3\n  run_timeout: 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SYNC_CHUNK_SIZE", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 7, cfg.Sync.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Sync.RunTimeout)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn is required")

	cfg.Database.DSN = "x"
	cfg.Database.Driver = "oracle"
	cfg.Sync.ChunkSize = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "sync.chunk_size")

	cfg = defaultConfig()
	cfg.Database.DSN = "x"
	assert.NoError(t, cfg.Validate())
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "zoom.client_secret", envTransformFunc("ZOOM_CLIENT_SECRET"))
	assert.Equal(t, "database.dsn", envTransformFunc("MYSQL_DSN"))
	assert.Equal(t, "rabbitmq.url", envTransformFunc("RABBITMQ_URL"))
	assert.Equal(t, "", envTransformFunc("HOME"))
	assert.Equal(t, "", envTransformFunc("ZOOM_"))
}
