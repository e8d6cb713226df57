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
	path := filepath.Join(t.TempDir(), "offlinesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsUseDurableLocalProfile(t *testing.T) {
	t.Setenv("OFFLINESYNC_DATA_DIR", "/var/lib/offlinesync")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/offlinesync/records.db", cfg.RecordsDSN)
	assert.Equal(t, "sqlite:///var/lib/offlinesync/cache.db", cfg.CacheDSN)
	assert.Equal(t, "https://jsonplaceholder.typicode.com/posts", cfg.ProbeTarget())
	assert.Contains(t, cfg.Rules.ShellPaths, "/index.html")
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
origin: http://app.internal:3000
version: "7"
profile: memory
probeTimeout: 2s
rules:
  shellPaths: ["/", "/app.webmanifest"]
  staticPrefixes: ["/build/"]
`)
	t.Setenv("OFFLINESYNC_VERSION", "8")
	t.Setenv("OFFLINESYNC_SHELL_ASSETS", "/, /app.webmanifest ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://app.internal:3000", cfg.Origin)
	assert.Equal(t, "8", cfg.Version, "environment wins over the file")
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, []string{"/", "/app.webmanifest"}, cfg.Rules.ShellPaths)
	assert.Equal(t, []string{"/build/"}, cfg.Rules.StaticPrefixes)
	assert.Equal(t, []string{"/", "/app.webmanifest"}, cfg.ShellAssets)
	assert.Equal(t, "memory://", cfg.RecordsDSN)
	assert.Equal(t, "memory://", cfg.CacheDSN)
	assert.Equal(t, "app.internal:3000", cfg.OriginURL().Host)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "orign: http://typo\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestExplicitDSNOverridesProfile(t *testing.T) {
	t.Setenv("OFFLINESYNC_BACKEND_PROFILE", "memory")
	t.Setenv("OFFLINESYNC_RECORDS_DSN", "file:///tmp/records.json")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/records.json", cfg.RecordsDSN)
	assert.Equal(t, "memory://", cfg.CacheDSN)
}

func TestProductionProfile(t *testing.T) {
	t.Setenv("OFFLINESYNC_BACKEND_PROFILE", "production")
	_, err := Load("")
	require.Error(t, err, "production needs a database dsn")

	t.Setenv("OFFLINESYNC_PRODUCTION_DSN", "postgres://app@db/offline")
	t.Setenv("OFFLINESYNC_REDIS_URL", "redis://cache:6379/0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@db/offline", cfg.RecordsDSN)
	assert.Equal(t, "redis://cache:6379/0", cfg.CacheDSN)
}

func TestUnsupportedProfile(t *testing.T) {
	t.Setenv("OFFLINESYNC_BACKEND_PROFILE", "cloud")
	_, err := Load("")
	require.Error(t, err)
}

func TestInvalidEnvironmentFallsBack(t *testing.T) {
	t.Setenv("OFFLINESYNC_SEND_RETRIES", "many")
	t.Setenv("OFFLINESYNC_SYNC_DELAY", "soon")
	t.Setenv("OFFLINESYNC_PROBE_JITTER", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.SendRetries)
	assert.Equal(t, 2*time.Second, cfg.SyncDelay)
	assert.Equal(t, 0.5, cfg.ProbeJitter)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Origin = "/relative"
	cfg.ProbeJitter = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "origin must be an absolute url")
	assert.Contains(t, err.Error(), "probe jitter")
	assert.Contains(t, err.Error(), "no records store configured")
}
