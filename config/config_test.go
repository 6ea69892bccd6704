package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spa.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "spa.db", cfg.Database.Path)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
[server]
host = "127.0.0.1"
port = 9090
read_timeout = "5s"

[database]
path = "/var/lib/spa/spa.db"

[log]
level = "debug"

[metrics]
enabled = false

[cors]
allowed_origins = ["http://localhost:5173"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Duration)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout.Duration, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/spa/spa.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "[server]\nport = 9090\n")
	t.Setenv(EnvPort, "7000")
	t.Setenv(EnvDBPath, "env.db")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvMetrics, "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "env.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeFile(t, "[server]\nprot = 1\n"))
		assert.ErrorContains(t, err, "unknown keys")
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeFile(t, "[server]\nread_timeout = \"soon\"\n"))
		assert.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
	t.Run("bad env port", func(t *testing.T) {
		t.Setenv(EnvPort, "eighty")
		_, err := Load("")
		assert.ErrorContains(t, err, EnvPort)
	})
	t.Run("port out of range", func(t *testing.T) {
		t.Setenv(EnvPort, "70000")
		_, err := Load("")
		assert.ErrorContains(t, err, "out of range")
	})
}
