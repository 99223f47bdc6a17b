package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	require.Len(t, cfg.Partitions, 1)
	assert.Equal(t, "memory", cfg.Partitions[0].Backend)
	assert.True(t, cfg.Changelog.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: DEBUG
  format: json
shutdown_timeout: 10s
partitions:
  - suffix: dc=example,dc=com
    backend: badger
    dir: /var/lib/dirsrv/example
changelog:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Len(t, cfg.Partitions, 1)
	assert.Equal(t, "badger", cfg.Partitions[0].Backend)
	assert.False(t, cfg.Changelog.Enabled)
}

func TestLoad_ValidationRejectsBadBackend(t *testing.T) {
	path := writeConfig(t, `
partitions:
  - suffix: dc=example,dc=com
    backend: cassandra
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_BadgerWithoutDirRejected(t *testing.T) {
	path := writeConfig(t, `
partitions:
  - suffix: dc=example,dc=com
    backend: badger
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_APIWithoutSecretRejected(t *testing.T) {
	path := writeConfig(t, `
api:
  enabled: true
  addr: ":8389"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "WARN"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", loaded.Logging.Level)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
