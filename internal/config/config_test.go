package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
history_path = "runs.db"

[source]
url = "https://prod.example.com"
token = "file-token"

[destination]
url = "https://staging.example.com"

[migration]
batch_size = 250
max_wait = "5m"
checksum_range_size = 10000
remote_checksum = true

[retry]
max_retries = 5
initial_backoff = "1s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://prod.example.com", cfg.Source.URL)
	assert.Equal(t, "file-token", cfg.Source.Token)
	assert.Equal(t, int64(250), cfg.Migration.BatchSize)
	assert.Equal(t, Duration(5*time.Minute), cfg.Migration.MaxWait)
	assert.Equal(t, 3, cfg.Migration.RetryCount, "unset values keep defaults")
	assert.Equal(t, int64(10000), cfg.Migration.ChecksumRangeSize)
	assert.True(t, cfg.Migration.RemoteChecksum)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "runs.db"), cfg.HistoryDatabasePath())
	require.NoError(t, cfg.Validate())

	rc := cfg.RetryConfig()
	assert.Equal(t, 5, rc.MaxRetries)
	assert.Equal(t, time.Second, rc.InitialBackoff)
	assert.Equal(t, 30*time.Second, rc.MaxBackoff)
}

func TestLoad_EnvOverridesTokens(t *testing.T) {
	path := writeConfig(t, `
[source]
url = "http://a"
token = "file-token"
[destination]
url = "http://b"
`)
	t.Setenv(EnvSourceToken, "env-source")
	t.Setenv(EnvDestinationToken, "env-destination")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-source", cfg.Source.Token)
	assert.Equal(t, "env-destination", cfg.Destination.Token)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
[migration]
max_wait = "forever"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.url is required")
	assert.Contains(t, err.Error(), "destination.url is required")

	cfg.Source.URL = "http://same"
	cfg.Destination.URL = "http://same"
	assert.ErrorContains(t, cfg.Validate(), "different stacks")

	cfg.Destination.URL = "http://other"
	cfg.Migration.BatchSize = 0
	assert.ErrorContains(t, cfg.Validate(), "batch_size")
}

func TestInitialize_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(dir, "http://src", "http://dst")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ConfigFile), cfg.Path())
	assert.Equal(t, filepath.Join(dir, StateDir, HistoryFile), cfg.HistoryDatabasePath())

	loaded, err := Load(cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, "http://src", loaded.Source.URL)
	assert.Equal(t, "http://dst", loaded.Destination.URL)
	assert.Equal(t, Duration(30*time.Minute), loaded.Migration.MaxWait)

	_, err = Initialize(dir, "http://src", "http://dst")
	assert.Error(t, err)
}
