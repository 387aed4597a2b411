package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("ALARM_ENGINE_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("ALARM_ENGINE_WORKERS", "4")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
rules:
  source: file
  file: rules.yaml
  reload_interval: 30s
engine:
  retry_backoff: 50ms
  duration_schedule_policy: pause
cache:
  kind: memory
  ttl: 10s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.Rules.ReloadInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.RetryBackoff)
	assert.Equal(t, "pause", cfg.Engine.DurationSchedulePolicy)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 1024, cfg.Engine.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Cache.TTL)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.Database.DSN = "postgres://localhost/alarms"
	require.NoError(t, cfg.Validate())

	cfg.Cache.Kind = CacheRedis
	require.Error(t, cfg.Validate())
	cfg.Cache.RedisAddr = "localhost:6379"
	require.NoError(t, cfg.Validate())

	cfg.Engine.DurationSchedulePolicy = "stretch"
	require.Error(t, cfg.Validate())

	mem := Default()
	mem.Store = StoreMemory
	require.Error(t, mem.Validate(), "postgres rules need the postgres store")
	mem.Rules = RulesConfig{Source: RulesFile, File: "rules.yaml"}
	require.NoError(t, mem.Validate())
}
