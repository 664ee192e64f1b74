package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// applyFallbacks fills values derived from other settings
func (c *Config) applyFallbacks() {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	c.applyStateDefaults()
	c.applyTLSDefaults()
	c.applyObservabilityDefaults()
}

// applyStateDefaults expands "~" in the state directory
func (c *Config) applyStateDefaults() {
	if strings.HasPrefix(c.State.Dir, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			c.State.Dir = filepath.Join(home, c.State.Dir[2:])
		}
	}
	if c.Navigator.DefaultTab == "" {
		c.Navigator.DefaultTab = "profile"
	}
}

// applyTLSDefaults applies default TLS configuration values
func (c *Config) applyTLSDefaults() {
	if c.Server.TLS.MinVersion == "" && c.Server.TLS.Mode != "disabled" {
		c.Server.TLS.MinVersion = "1.2"
	}
}

// applyObservabilityDefaults applies default observability configuration values
func (c *Config) applyObservabilityDefaults() {
	if c.Observability.ServiceInstance == "" {
		c.Observability.ServiceInstance = generateServiceInstanceID(c.Observability.ServiceName)
	}

	// Debug logging implies console telemetry unless configured otherwise
	if c.App.LogLevel == "debug" && c.Observability.Enabled && !c.Observability.ConsoleOutput {
		c.Observability.ConsoleOutput = true
	}
}

// generateServiceInstanceID generates a unique service instance ID
func generateServiceInstanceID(serviceName string) string {
	if hostname, err := os.Hostname(); err == nil {
		return fmt.Sprintf("%s-%s", serviceName, hostname)
	}
	return fmt.Sprintf("%s-1", serviceName)
}

// StorageFile is the CLI's local-storage document
func (c *Config) StorageFile() string {
	return filepath.Join(c.State.Dir, "storage.json")
}

// HistoryFile is the CLI's persisted navigation history
func (c *Config) HistoryFile() string {
	return filepath.Join(c.State.Dir, "history.json")
}

// IdentityFile holds federated provider tokens
func (c *Config) IdentityFile() string {
	return filepath.Join(c.State.Dir, "identity.json")
}

// logConfigurationSources logs a summary of configuration sources being used
func (c *Config) logConfigurationSources(configFileUsed string) {
	log.Println("[CONFIG] === Configuration Sources Summary ===")

	if configFileUsed != "" {
		log.Printf("[CONFIG] Config file: %s", configFileUsed)
	} else {
		log.Println("[CONFIG] Config file: None (using defaults)")
	}

	envVars := []string{
		EnvPrefix + "_API_BASEURL",
		EnvPrefix + "_NAVIGATOR_COUNTDOWN",
		EnvPrefix + "_STATE_DIR",
		EnvPrefix + "_IDENTITY_PROVIDER",
		EnvPrefix + "_IDENTITY_OIDC_CLIENTSECRET",
		EnvPrefix + "_SERVER_PORT",
		EnvPrefix + "_APP_LOGLEVEL",
		EnvPrefix + "_VAULT_ENABLED",
	}

	log.Println("[CONFIG] Environment variables:")
	hasEnvVars := false
	for _, envVar := range envVars {
		if value := os.Getenv(envVar); value != "" {
			if isSensitive(envVar) {
				log.Printf("[CONFIG]   %s=***MASKED***", envVar)
			} else {
				log.Printf("[CONFIG]   %s=%s", envVar, value)
			}
			hasEnvVars = true
		}
	}
	if !hasEnvVars {
		log.Println("[CONFIG]   None set")
	}

	log.Println("[CONFIG] === Key Configuration Values ===")
	log.Printf("[CONFIG] API Base URL: %s", c.API.BaseURL)
	log.Printf("[CONFIG] State Dir: %s", c.State.Dir)
	log.Printf("[CONFIG] Identity Provider: %s", c.Identity.Provider)
	if c.Identity.OIDC.ClientSecret != "" {
		log.Println("[CONFIG] OIDC Client Secret: ***CONFIGURED***")
	}
	log.Printf("[CONFIG] Countdown: %s", c.Navigator.Countdown)
	log.Printf("[CONFIG] Server: %s (TLS %s)", c.ServerAddr(), c.Server.TLS.Mode)
	log.Printf("[CONFIG] Redis Sessions: %t", c.Server.Sessions.Redis.Enabled)
	log.Printf("[CONFIG] Log Level: %s", c.App.LogLevel)
	log.Printf("[CONFIG] Vault Enabled: %t", c.Vault.Enabled)
	log.Printf("[CONFIG] Observability Enabled: %t", c.Observability.Enabled)
	log.Println("[CONFIG] =====================================")
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "secret") || strings.Contains(lower, "password") || strings.Contains(lower, "token")
}
