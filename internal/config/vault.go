package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"resumeunlocked/internal/errors"

	"github.com/hashicorp/vault/api"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"tokenFile"`
	Namespace string `mapstructure:"namespace"`

	// Secret paths
	Secrets VaultSecrets `mapstructure:"secrets"`
}

// VaultSecrets defines where to find secrets in Vault (KVv2 paths)
type VaultSecrets struct {
	IdentityClientSecret string `mapstructure:"identityClientSecret"` // key "client_secret"
	RedisPassword        string `mapstructure:"redisPassword"`        // key "password"
	TLSCerts             string `mapstructure:"tlsCerts"`             // keys "cert" and "key"
}

// VaultClient wraps the Vault API client
type VaultClient struct {
	client *api.Client
	config VaultConfig
	logger *errors.Logger
}

// NewVaultClient creates a new Vault client from configuration.
// It returns nil, nil when Vault is disabled.
func NewVaultClient(config VaultConfig, logger *errors.Logger) (*VaultClient, error) {
	if !config.Enabled {
		logger.Debug("Vault integration disabled")
		return nil, nil
	}

	logger.Debug("Initializing Vault client",
		"address", config.Address,
		"namespace", config.Namespace,
		"token_file", config.TokenFile,
		"has_token", config.Token != "")

	client, err := createVaultAPIClient(config, logger)
	if err != nil {
		return nil, err
	}

	token, err := resolveVaultToken(config, logger)
	if err != nil {
		return nil, err
	}

	client.SetToken(token)
	logger.Debug("Vault token configured", "token_prefix", token[:min(len(token), 8)]+"...")

	if err := testVaultConnection(client, config.Address, logger); err != nil {
		return nil, err
	}

	return &VaultClient{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// createVaultAPIClient creates and configures the Vault API client
func createVaultAPIClient(config VaultConfig, logger *errors.Logger) (*api.Client, error) {
	vaultConfig := api.DefaultConfig()
	if config.Address != "" {
		vaultConfig.Address = config.Address
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		logger.LogError(err, "Failed to create Vault client")
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
		logger.Debug("Set Vault namespace", "namespace", config.Namespace)
	}

	return client, nil
}

// resolveVaultToken resolves the Vault token from config or file
func resolveVaultToken(config VaultConfig, logger *errors.Logger) (string, error) {
	token := config.Token

	if token == "" && config.TokenFile != "" {
		logger.Debug("Reading Vault token from file", "file", config.TokenFile)
		tokenBytes, err := os.ReadFile(config.TokenFile)
		if err != nil {
			logger.LogError(err, "Failed to read Vault token file", "file", config.TokenFile)
			return "", fmt.Errorf("failed to read vault token file: %w", err)
		}
		token = strings.TrimSpace(string(tokenBytes))
	}

	if token == "" {
		logger.LogError(fmt.Errorf("vault token is required"), "Vault token is required when Vault is enabled")
		return "", fmt.Errorf("vault token is required when vault is enabled")
	}

	return token, nil
}

// testVaultConnection tests the connection to Vault
func testVaultConnection(client *api.Client, address string, logger *errors.Logger) error {
	logger.Debug("Testing Vault connection", "address", address)

	health, err := client.Sys().Health()
	if err != nil {
		logger.LogError(err, "Failed to connect to Vault", "address", address)
		return fmt.Errorf("failed to connect to vault: %w", err)
	}

	logger.Info("Successfully connected to Vault",
		"address", address,
		"version", health.Version,
		"sealed", health.Sealed)

	return nil
}

// VaultSecret represents a secret read from Vault's KVv2 engine.
type VaultSecret struct {
	Data    map[string]any
	Version int64
}

// GetSecretV2 retrieves a secret from a Vault KVv2 store.
func (vc *VaultClient) GetSecretV2(path string) (*VaultSecret, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client not initialized")
	}

	vc.logger.Debug("Reading secret from Vault", "path", path)

	secret, err := vc.client.Logical().Read(path)
	if err != nil {
		vc.logger.LogError(err, "Failed to read secret from Vault", "path", path)
		return nil, fmt.Errorf("failed to read secret from %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		vc.logger.Warn("Secret not found at path", "path", path)
		return nil, fmt.Errorf("secret not found at path: %s", path)
	}

	return parseKVv2Secret(secret.Data, path)
}

// parseKVv2Secret splits a raw KVv2 response into data and version
func parseKVv2Secret(raw map[string]any, path string) (*VaultSecret, error) {
	data, ok := raw["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'data' field)", path)
	}

	metadata, ok := raw["metadata"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'metadata' field)", path)
	}
	versionRaw, ok := metadata["version"]
	if !ok {
		return nil, fmt.Errorf("secret metadata at %s is missing 'version' field", path)
	}
	version, err := parseVersionValue(versionRaw, path)
	if err != nil {
		return nil, err
	}

	return &VaultSecret{Data: data, Version: version}, nil
}

// parseVersionValue parses version value from various types
func parseVersionValue(versionRaw any, path string) (int64, error) {
	switch v := versionRaw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse secret version at %s: %w", path, err)
		}
		return version, nil
	default:
		return 0, fmt.Errorf("unexpected type for version at %s: %T", path, versionRaw)
	}
}

// GetStringSecret retrieves a string value from a Vault secret
func (vc *VaultClient) GetStringSecret(path, key string) (string, error) {
	secret, err := vc.GetSecretV2(path)
	if err != nil {
		return "", err
	}
	value, err := stringField(secret, path, key)
	if err != nil {
		return "", err
	}

	vc.logger.Debug("String secret retrieved from Vault",
		"path", path,
		"key", key,
		"masked_value", maskSecret(value))

	return value, nil
}

func stringField(secret *VaultSecret, path, key string) (string, error) {
	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key '%s' not found in secret %s", key, path)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key '%s' is not a string in secret %s", key, path)
	}
	return strValue, nil
}

func maskSecret(value string) string {
	if len(value) > 8 {
		return value[:4] + "****" + value[len(value)-4:]
	}
	if len(value) > 0 {
		return "****"
	}
	return ""
}

// secretReader is the part of VaultClient that secret loaders need
type secretReader interface {
	GetSecretV2(path string) (*VaultSecret, error)
	GetStringSecret(path, key string) (string, error)
}

// ApplyVaultSecrets loads secrets from Vault and applies them to the config
func ApplyVaultSecrets(config *Config, logger *errors.Logger) error {
	if !config.Vault.Enabled {
		logger.Debug("Vault integration disabled, skipping secret loading")
		return nil
	}

	logger.Info("Loading secrets from Vault",
		"identity_secret_path", config.Vault.Secrets.IdentityClientSecret,
		"redis_password_path", config.Vault.Secrets.RedisPassword,
		"tls_certs_path", config.Vault.Secrets.TLSCerts)

	client, err := NewVaultClient(config.Vault, logger)
	if err != nil {
		logger.LogError(err, "Failed to initialize Vault client")
		return fmt.Errorf("failed to initialize vault client: %w", err)
	}
	if client == nil {
		return nil
	}

	return applySecrets(client, config, logger)
}

// applySecrets loads all configured secrets from the reader
func applySecrets(client secretReader, config *Config, logger *errors.Logger) error {
	paths := config.Vault.Secrets

	if err := loadStringSecret(client, paths.IdentityClientSecret, "client_secret",
		&config.Identity.OIDC.ClientSecret, "identity client secret", logger); err != nil {
		return err
	}

	if err := loadStringSecret(client, paths.RedisPassword, "password",
		&config.Server.Sessions.Redis.Password, "redis password", logger); err != nil {
		return err
	}

	if err := loadTLSCertsFromVault(client, config, logger); err != nil {
		return err
	}

	logger.Info("Successfully completed applying secrets from Vault")
	return nil
}

// loadStringSecret copies one string secret into target; empty paths are skipped
func loadStringSecret(client secretReader, path, key string, target *string, description string, logger *errors.Logger) error {
	if path == "" {
		return nil
	}

	logger.Debug("Loading "+description+" from Vault", "path", path)

	value, err := client.GetStringSecret(path, key)
	if err != nil {
		logger.LogError(err, "Failed to load "+description+" from Vault", "path", path)
		return fmt.Errorf("failed to load %s from vault: %w", description, err)
	}

	if value == "" {
		logger.Warn("Empty "+description+" found in Vault", "path", path)
		return nil
	}

	*target = value
	logger.Info(description + " loaded from Vault")
	return nil
}

// loadTLSCertsFromVault loads TLS certificates from Vault
func loadTLSCertsFromVault(client secretReader, config *Config, logger *errors.Logger) error {
	path := config.Vault.Secrets.TLSCerts
	if path == "" {
		return nil
	}

	logger.Debug("Loading TLS certificates from Vault", "path", path)

	tlsData, err := client.GetSecretV2(path)
	if err != nil {
		logger.LogError(err, "Failed to load TLS certificates from Vault", "path", path)
		return fmt.Errorf("failed to load TLS certificates from vault: %w", err)
	}

	if err := validateTLSDeprecatedFields(tlsData, logger); err != nil {
		return err
	}

	certCount := loadTLSCertificateContent(config, tlsData, logger)
	if certCount > 0 {
		// Vault content replaces file-based sources
		if config.Server.TLS.CertContent != "" {
			config.Server.TLS.CertFile = ""
		}
		if config.Server.TLS.KeyContent != "" {
			config.Server.TLS.KeyFile = ""
		}
	}

	logger.Info("TLS certificates loaded from Vault", "certificates_loaded", certCount)
	return nil
}

// loadTLSCertificateContent loads certificate content from Vault data
func loadTLSCertificateContent(config *Config, tlsData *VaultSecret, logger *errors.Logger) int {
	certCount := 0
	certCount += loadSingleCertificate(tlsData, "cert", &config.Server.TLS.CertContent, "TLS certificate content", logger)
	certCount += loadSingleCertificate(tlsData, "key", &config.Server.TLS.KeyContent, "TLS private key content", logger)
	return certCount
}

// loadSingleCertificate loads a single certificate field from Vault data
func loadSingleCertificate(tlsData *VaultSecret, key string, target *string, description string, logger *errors.Logger) int {
	if content, ok := tlsData.Data[key].(string); ok && content != "" {
		*target = content
		logger.Debug(description+" loaded from Vault", "content_length", len(content))
		return 1
	}
	return 0
}

// validateTLSDeprecatedFields rejects file paths stored in Vault
func validateTLSDeprecatedFields(tlsData *VaultSecret, logger *errors.Logger) error {
	for _, field := range []string{"cert_file", "key_file"} {
		if _, hasField := tlsData.Data[field]; hasField {
			err := fmt.Errorf("vault TLS configuration error: '%s' field is no longer supported. Store certificate content in '%s' field instead",
				field, strings.TrimSuffix(field, "_file"))
			logger.LogError(err, "Deprecated TLS field in Vault secret", "field", field)
			return err
		}
	}
	return nil
}
