package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadFrom_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
database:
  postgres:
    host: ${TEST_PG_HOST:db.internal}
revisioning:
  active_store: redis
  bootstrap:
    tables:
      - entity_type: pages
        table: cms_pages
`)
	writeConfig(t, dir, "config.staging.yaml", `
revisioning:
  max_cascade_depth: 4
`)
	t.Setenv("APP_ENV", "staging")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, ActiveStoreRedis, cfg.Revisioning.ActiveStore)
	assert.Equal(t, 4, cfg.Revisioning.MaxCascadeDepth)
	assert.Equal(t, 30*time.Minute, cfg.Revisioning.ActiveTTL)
	assert.False(t, cfg.Revisioning.Events.Enabled)
	assert.Equal(t, "stream:revision:events", cfg.Revisioning.Events.Stream)
	assert.Equal(t, int64(100000), cfg.Revisioning.Events.MaxLen)
	assert.False(t, cfg.Observability.Metrics.Enabled)
	assert.Equal(t, 9464, cfg.Observability.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Observability.Metrics.Path)
	require.Len(t, cfg.Revisioning.Bootstrap.Tables, 1)
	assert.Equal(t, "cms_pages", cfg.Revisioning.Bootstrap.Tables[0].Table)
}

func TestLoadFrom_MissingBaseFile(t *testing.T) {
	_, err := LoadFrom(t.TempDir())
	require.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_SET", "value")

	assert.Equal(t, "value", expandEnv("${TEST_EXPAND_SET}"))
	assert.Equal(t, "fallback", expandEnv("${TEST_EXPAND_UNSET:fallback}"))
	assert.Equal(t, "${TEST_EXPAND_UNSET}", expandEnv("${TEST_EXPAND_UNSET}"))
}
