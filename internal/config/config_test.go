package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, 0.3, cfg.Model.Temperature)
	assert.Equal(t, 30*time.Second, cfg.Storage.FetchTimeout)
	assert.Len(t, cfg.Storage.Gateways, 4)
	assert.Equal(t, "0.0.0.0:8081", cfg.Server.GetServerAddr())
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, "validator.yaml", `
environment: staging
registry:
  url: http://registry.local
  subscribe: false
storage:
  gateways: [http://gw1, http://gw2]
  fetch_timeout: 5s
node:
  workers: 8
  poll_interval: 2s
`)
	t.Setenv("WORKERS", "2")
	t.Setenv("IPFS_GATEWAYS", "http://a, http://b ,http://c")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "http://registry.local", cfg.Registry.URL)
	assert.False(t, cfg.Registry.Subscribe)
	assert.Equal(t, 5*time.Second, cfg.Storage.FetchTimeout)
	assert.Equal(t, 2*time.Second, cfg.Node.PollInterval)
	assert.Equal(t, 2, cfg.Node.Workers, "environment wins over file")
	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, cfg.Storage.Gateways)
}

func TestLoadConfig_JSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"model": {"provider": "openai", "name": "gpt-4o-mini"}, "node": {"vote_timeout": "12s"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, 12*time.Second, cfg.Node.VoteTimeout)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_key")

	cfg.Validator.SecretKey = "SXXX"
	assert.NoError(t, cfg.Validate())

	cfg.Model.Provider = "bard"
	assert.ErrorContains(t, cfg.Validate(), "unknown model provider")
}

func TestValidate_HealthCheckSchedule(t *testing.T) {
	cfg := Default()
	cfg.Validator.SecretKey = "SXXX"

	cfg.Node.HealthCheck = "*/5 * * * *"
	assert.NoError(t, cfg.Validate())

	cfg.Node.HealthCheck = "every thirty seconds"
	assert.ErrorContains(t, cfg.Validate(), "invalid node.health_check schedule")
}

func TestValidate_ProductionRejectsMockUploads(t *testing.T) {
	cfg := Default()
	cfg.Validator.SecretKey = "SXXX"
	cfg.Environment = "production"
	cfg.Storage.AllowMockUploads = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_mock_uploads")
	assert.Contains(t, err.Error(), "production requires")

	cfg.Storage.AllowMockUploads = false
	cfg.Storage.PinataJWT = "jwt"
	assert.NoError(t, cfg.Validate())
}
