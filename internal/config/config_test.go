package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GOPHCOLLAB_JWT_SECRET", "secret")

	cfg, err := LoadServer("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Grouping.BatchSize)
	assert.Equal(t, 12*time.Hour, cfg.JWT.TokenTTL)
	assert.Equal(t, "secret", cfg.JWT.Secret)
}

func TestLoadServer_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
address: ":9090"
storage:
  driver: redis
  redis_url: redis://cache:6379/1
jwt:
  secret: from-file
  token_ttl: 30m
grouping:
  batch_size: 4
`), 0o600))

	// Переменная окружения перекрывает файл
	t.Setenv("GOPHCOLLAB_GROUPING_BATCH_SIZE", "5")

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.Equal(t, 30*time.Minute, cfg.JWT.TokenTTL)
	assert.Equal(t, 5, cfg.Grouping.BatchSize)
}

func TestLoadServer_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadServer("")
	assert.ErrorContains(t, err, "jwt.secret is required")

	_, err = LoadServer(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	t.Setenv("GOPHCOLLAB_JWT_SECRET", "secret")
	t.Setenv("GOPHCOLLAB_GROUPING_BATCH_SIZE", "0")
	_, err = LoadServer("")
	assert.ErrorContains(t, err, "batch_size must be positive")
}

func TestLoadClient_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GOPHCOLLAB_SERVER_URL", "http://collab:8080")

	cfg, err := LoadClient("")
	require.NoError(t, err)

	assert.Equal(t, "http://collab:8080", cfg.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.FallbackDelay)
	assert.Equal(t, time.Second, cfg.PollInterval)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(Log{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	NewLogger(Log{Level: "debug", Format: "text"}, &buf).Debug("text line")
	assert.Contains(t, buf.String(), "msg=\"text line\"")
}
