package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
server:
  port: 9090
history:
  clamp_policy: strict
auth:
  users:
    - username: Admin
      password: ${ADMIN_PASSWORD}
      role: admin
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "strict", cfg.History.ClampPolicy)
	assert.Equal(t, 7, cfg.History.WeeklyLookbackDays)
	assert.Equal(t, 30, cfg.History.MonthlyLookbackDays)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "s3cret", cfg.Auth.Users[0].Password)
	assert.Equal(t, []string{"admin", "superadmin"}, cfg.Auth.AllowedRoles)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "clamped", cfg.History.ClampPolicy)
	assert.True(t, cfg.Cache.WarmerEnabled)
	assert.Equal(t, "family-imports", cfg.Kafka.Topic)
	assert.Equal(t, "postgres://pandora:@localhost:5432/pandorahearts?sslmode=disable", cfg.Postgres.ConnectionString())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warning"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{}.SlogLevel())
}
