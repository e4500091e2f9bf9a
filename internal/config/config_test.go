package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv(configFileEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, ConsumerRedis, cfg.Consumer)
	assert.Equal(t, []string{"BTCUSD"}, cfg.Market.Symbols)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
server:
  port: 9090
redis:
  host: redis.internal
  port: 6380
  database: 2
consumer: console
market:
  symbols:
    - BTCUSD
    - ETHUSDT
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	t.Setenv(configFileEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, 2, cfg.Redis.Database)
	assert.Equal(t, ConsumerConsole, cfg.Consumer)
	assert.Equal(t, []string{"BTCUSD", "ETHUSDT"}, cfg.Market.Symbols)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))
	t.Setenv(configFileEnvVar, path)
	t.Setenv("LOOM_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}
