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

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: 127.0.0.1:9090
db:
  path: /var/lib/registry/registry.db
rules:
  path: /etc/registry/rules.yaml
  watch: false
log:
  level: debug
write_roles: [REGISTRY_ADMIN]
tracing:
  enabled: true
  exporter: none
schema_cache:
  ttl: 30s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, "/tmp/registry.sock", cfg.RPC.Socket)
	assert.Equal(t, "/var/lib/registry/registry.db", cfg.DB.Path)
	assert.False(t, cfg.Rules.Watch)
	assert.Equal(t, []string{"REGISTRY_ADMIN"}, cfg.WriteRoles)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Equal(t, 30*time.Second, cfg.SchemaCache.TTL)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  path: file.db\n"), 0o600))
	t.Setenv("REGISTRY_DB_PATH", "env.db")
	t.Setenv("REGISTRY_WRITE_ROLES", "OPS, REGISTRY_ADMIN")
	t.Setenv("REGISTRY_SCHEMA_CACHE_TTL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.DB.Path)
	assert.Equal(t, []string{"OPS", "REGISTRY_ADMIN"}, cfg.WriteRoles)
	assert.Equal(t, time.Minute, cfg.SchemaCache.TTL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("REGISTRY_LOG_LEVEL", "chatty")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "explicit config path must exist")

	t.Chdir(t.TempDir())
	_, err = Load("")
	require.ErrorContains(t, err, "log.level")
}
