package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir into an empty dir so a developer's .env does not leak into tests.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{"CUBE_DUEL_CONFIG", "HTTP_ADDR", "STORE", "REDIS_URL", "DATABASE_URL",
		"POLL_INTERVAL", "SCRAMBLE_LENGTH", "ROUND_TTL", "API_BASE_URL", "API_WS_URL"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 12, cfg.ScrambleLength)
	assert.Zero(t, cfg.RoundTTL)
}

func TestLoadRequiresStoreURL(t *testing.T) {
	isolate(t)
	_, err := Load()
	assert.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("STORE", "postgres")
	_, err = Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("STORE", "sqlite")
	_, err = Load()
	assert.Error(t, err)
}

func TestYAMLThenEnvOverride(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "cube-duel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: postgres\ndatabase_url: postgres://yaml\npoll_interval: 5s\nscramble_length: 20\n"), 0o644))
	t.Setenv("CUBE_DUEL_CONFIG", path)
	t.Setenv("SCRAMBLE_LENGTH", "25")
	t.Setenv("ROUND_TTL", "3600")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://yaml", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 25, cfg.ScrambleLength)
	assert.Equal(t, time.Hour, cfg.RoundTTL)
}

func TestDotEnvFile(t *testing.T) {
	dir := isolate(t)
	os.Unsetenv("REDIS_URL")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_URL=redis://dotenv:6379/1\n"), 0o644))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://dotenv:6379/1", cfg.RedisURL)
	os.Unsetenv("REDIS_URL")
}

func TestLoadClientDerivesWS(t *testing.T) {
	isolate(t)
	t.Setenv("API_BASE_URL", "https://cube.example.com")
	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "wss://cube.example.com", cfg.APIWSURL)
}

func TestBadDuration(t *testing.T) {
	isolate(t)
	t.Setenv("REDIS_URL", "redis://x:1")
	t.Setenv("POLL_INTERVAL", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "POLL_INTERVAL")
}
