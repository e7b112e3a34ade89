package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Port)
	require.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	require.Equal(t, int64(64<<10), cfg.MaxMessageSize)
	require.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: time.Second}, cfg.RateLimit)
	require.Equal(t, 50, cfg.HistoryLimit)
	require.Equal(t, "gochat.db", cfg.Store.Path)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("HISTORY_LIMIT", "20")
	t.Setenv("DATABASE_PATH", "/tmp/chat.db")
	t.Setenv("STORE_WORKERS", "8")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Port)
	require.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, int64(2048), cfg.MaxMessageSize)
	require.Equal(t, RateLimitConfig{Burst: 10, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	require.Equal(t, 20, cfg.HistoryLimit)
	require.Equal(t, "/tmp/chat.db", cfg.Store.Path)
	require.Equal(t, 8, cfg.Store.Workers)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: ":7000"
history_limit: 10
jwt_secret: "file-secret-0123456789"
store:
  path: "file.db"
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HISTORY_LIMIT", "15")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Port)
	require.Equal(t, 15, cfg.HistoryLimit)
	require.Equal(t, "file.db", cfg.Store.Path)
	require.Equal(t, "file-secret-0123456789", cfg.JWTSecret)
}

func TestLoadConfigValidates(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadConfig()
	require.Error(t, err, "missing jwt secret")

	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestSanitizeConfigFillsZeroValues(t *testing.T) {
	cfg := sanitizeConfig(Config{AllowedOrigins: []string{"*"}})
	require.Equal(t, ":8080", cfg.Port)
	require.Equal(t, int64(64<<10), cfg.MaxMessageSize)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	require.Equal(t, 50, cfg.HistoryLimit)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}
