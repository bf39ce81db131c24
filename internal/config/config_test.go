package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyFleet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackendServers = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackendServers = []string{"http://a", "http://a"}
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BACKEND_SERVERS", "http://a:1,http://b:2")
	t.Setenv("MAX_SESSIONS_PER_SERVER", "50")
	t.Setenv("MAX_RETRIES", "5")

	cfg := LoadFromEnvironment()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.BackendServers)
	assert.Equal(t, 50, cfg.MaxSessionsPerServer)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoadConfigMergesEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/gateway.yaml"
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\nmax_retries: 7\n"), 0644))

	t.Setenv("GATEWAY_CONFIG", path)
	t.Setenv("PORT", "4500")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4500, cfg.Port) // env wins
	assert.Equal(t, 7, cfg.MaxRetries) // file value survives since env didn't set it
}
