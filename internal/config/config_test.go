package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8004, cfg.Server.Port)
	assert.Equal(t, "/api/realtime", cfg.Server.BasePath)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 5*time.Second, cfg.Realtime.AuthTimeout)
	assert.Equal(t, 90*time.Second, cfg.Realtime.HeartbeatThreshold)
	assert.Equal(t, "@every 1m", cfg.Housekeeping.SweepSchedule)
}

func TestLoad_YamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9100
  log_level: warn
redis:
  host: redis.internal
realtime:
  drain_timeout: 30s
housekeeping:
  room_max_idle: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 30*time.Second, cfg.Realtime.DrainTimeout)
	assert.Equal(t, time.Hour, cfg.Housekeeping.RoomMaxIdle)
	assert.Equal(t, "/api/realtime", cfg.Server.BasePath, "untouched keys keep defaults")
}

func TestLoad_EnvBeatsYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o644))

	t.Setenv("PORT", "9200")
	t.Setenv("DATABASE_URL", "postgres://collab:collab@db:5432/collab")
	t.Setenv("HEARTBEAT_THRESHOLD", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "postgres://collab:collab@db:5432/collab", cfg.Database.URL)
	assert.Equal(t, 2*time.Minute, cfg.Realtime.HeartbeatThreshold)
}

func TestLoad_MalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
