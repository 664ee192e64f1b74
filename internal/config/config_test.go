package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromDir(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	return LoadConfig(LoadOptions{ConfigFile: path, EnvFile: filepath.Join(dir, "missing.env")})
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadFromDir(t, "app:\n  logLevel: warn\n")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Navigator.Countdown)
	assert.Equal(t, "profile", cfg.Navigator.DefaultTab)
	assert.False(t, cfg.Navigator.SyncExternalLogout)
	assert.Equal(t, "none", cfg.Identity.Provider)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.Identity.OIDC.Scopes)
	assert.True(t, cfg.API.CircuitBreaker.Enabled)
	assert.Equal(t, "disabled", cfg.Server.TLS.Mode)
	assert.NotEmpty(t, cfg.Observability.ServiceInstance)
	assert.Equal(t, filepath.Join(cfg.State.Dir, "storage.json"), cfg.StorageFile())
}

func TestLoadConfigFileOverrides(t *testing.T) {
	cfg, err := loadFromDir(t, `
api:
  baseURL: https://api.example.com/
  timeout: 5s
navigator:
  countdown: 3s
  syncExternalLogout: true
state:
  dir: /tmp/ru-state
`)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Navigator.Countdown)
	assert.True(t, cfg.Navigator.SyncExternalLogout)
	assert.Equal(t, "/tmp/ru-state", cfg.State.Dir)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("RESUMEUNLOCKED_API_BASEURL", "https://env.example.com")
	t.Setenv("RESUMEUNLOCKED_NAVIGATOR_COUNTDOWN", "7s")

	cfg, err := loadFromDir(t, "app:\n  logLevel: info\n")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, 7*time.Second, cfg.Navigator.Countdown)
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("RESUMEUNLOCKED_SERVER_PORT=9191\n"), 0600))
	t.Cleanup(func() { _ = os.Unsetenv("RESUMEUNLOCKED_SERVER_PORT") })

	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("app:\n  logLevel: warn\n"), 0600))

	cfg, err := LoadConfig(LoadOptions{ConfigFile: configFile, EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.Server.Port)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		errorMsg string
	}{
		{"bad base url scheme", "api:\n  baseURL: ftp://x\n", "api.baseURL must use http or https"},
		{"zero countdown", "navigator:\n  countdown: 0s\n", "countdown must be positive"},
		{"unknown provider", "identity:\n  provider: saml\n", "invalid identity provider: saml"},
		{"oidc without client", "identity:\n  provider: oidc\n  oidc:\n    issuer: https://idp.example.com\n", "clientID is required"},
		{"bad default format", "app:\n  defaultFormat: xml\n", "invalid default format: xml"},
		{"bad tls mode", "server:\n  tls:\n    mode: both\n", "invalid TLS mode"},
		{"redis without addr", "server:\n  sessions:\n    redis:\n      enabled: true\n      addr: \"\"\n", "redis address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFromDir(t, tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestValidateOIDC(t *testing.T) {
	cfg, err := loadFromDir(t, `
identity:
  provider: oidc
  oidc:
    issuer: https://idp.example.com
    clientID: resumeunlocked
`)
	require.NoError(t, err)
	assert.Equal(t, "oidc", cfg.Identity.Provider)
	assert.Equal(t, "http://127.0.0.1:8085/callback", cfg.Identity.OIDC.RedirectURL)
}
