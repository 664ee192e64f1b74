package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "RESUMEUNLOCKED"

// Config holds all application configuration
// Secret precedence order:
// 1. Vault (if configured) - Highest priority
// 2. Config File values
// 3. Environment Variables (RESUMEUNLOCKED_IDENTITY_OIDC_CLIENTSECRET, etc.)
// 4. Default values - Lowest priority
type Config struct {
	API           APIConfig           `mapstructure:"api"`
	Navigator     NavigatorConfig     `mapstructure:"navigator"`
	State         StateConfig         `mapstructure:"state"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	Server        ServerConfig        `mapstructure:"server"`
	App           AppConfig           `mapstructure:"app"`
	Vault         VaultConfig         `mapstructure:"vault"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// APIConfig holds backend API client configuration
type APIConfig struct {
	BaseURL        string               `mapstructure:"baseURL"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	UserAgent      string               `mapstructure:"userAgent"`
	MaxUploadSize  int64                `mapstructure:"maxUploadSize"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
	RateLimit      ClientRateLimitConfig `mapstructure:"rateLimit"`
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`          // Whether circuit breaker is enabled
	MaxRequests      uint32        `mapstructure:"maxRequests"`      // Max requests allowed when half-open
	Interval         time.Duration `mapstructure:"interval"`         // Interval to clear counts
	Timeout          time.Duration `mapstructure:"timeout"`          // Timeout for half-open to open
	MinRequests      uint32        `mapstructure:"minRequests"`      // Minimum requests before tripping
	FailureThreshold float64       `mapstructure:"failureThreshold"` // Failure ratio threshold (0.0-1.0)
}

// ClientRateLimitConfig throttles outbound calls to the backend
type ClientRateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

// NavigatorConfig holds session/view navigator behavior
type NavigatorConfig struct {
	Countdown          time.Duration `mapstructure:"countdown"`          // Congratulations screen countdown
	DefaultTab         string        `mapstructure:"defaultTab"`         // Tab shown when the gate sends a user to the dashboard
	SyncExternalLogout bool          `mapstructure:"syncExternalLogout"` // Follow logouts made by other processes or tabs
	AppRoot            string        `mapstructure:"appRoot"`            // Post-logout redirect target for federated sign-out
}

// StateConfig holds where the CLI keeps its local storage and history
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// IdentityConfig selects and configures the federated identity provider
type IdentityConfig struct {
	Provider string     `mapstructure:"provider"` // "none" or "oidc"
	OIDC     OIDCConfig `mapstructure:"oidc"`
}

// OIDCConfig holds OpenID Connect client settings
type OIDCConfig struct {
	Issuer        string        `mapstructure:"issuer"`
	ClientID      string        `mapstructure:"clientID"`
	ClientSecret  string        `mapstructure:"clientSecret"`
	RedirectURL   string        `mapstructure:"redirectURL"`
	Scopes        []string      `mapstructure:"scopes"`
	EndSessionURL string        `mapstructure:"endSessionURL"` // Overrides the discovered end_session_endpoint
	LoginTimeout  time.Duration `mapstructure:"loginTimeout"`  // How long the CLI waits for the browser callback
}

// ServerConfig holds local shell server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
	MaxBodySize  int64         `mapstructure:"maxBodySize"`

	// TLS Configuration
	TLS TLSConfig `mapstructure:"tls"`

	// Rate Limiting Configuration
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`

	// Per-tab session storage
	Sessions SessionsConfig `mapstructure:"sessions"`
}

// TLSConfig holds TLS configuration for the shell server
type TLSConfig struct {
	Mode     string `mapstructure:"mode"`     // TLS mode: "disabled", "server"
	CertFile string `mapstructure:"certFile"` // Server certificate file (PEM)
	KeyFile  string `mapstructure:"keyFile"`  // Server private key file (PEM)

	// Certificate content (used when loaded from Vault instead of files)
	CertContent string `mapstructure:"certContent"`
	KeyContent  string `mapstructure:"keyContent"`

	MinVersion string `mapstructure:"minVersion"` // Minimum TLS version: "1.2", "1.3"
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`        // Enable/disable rate limiting
	RequestsPerMin int           `mapstructure:"requestsPerMin"` // Requests allowed per minute
	BurstCapacity  int           `mapstructure:"burstCapacity"`  // Burst capacity for token bucket
	ByIP           bool          `mapstructure:"byIP"`           // Enable per-IP rate limiting
	Window         time.Duration `mapstructure:"window"`         // Rate limiting window duration
}

// SessionsConfig holds per-tab navigator session settings
type SessionsConfig struct {
	CookieName string        `mapstructure:"cookieName"`
	TTL        time.Duration `mapstructure:"ttl"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the Redis connection used for tab storage
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AppConfig holds general application configuration
type AppConfig struct {
	LogLevel         string   `mapstructure:"logLevel"`
	DefaultFormat    string   `mapstructure:"defaultFormat"`
	SupportedFormats []string `mapstructure:"supportedFormats"`
	MaxFileSize      int64    `mapstructure:"maxFileSize"`
}

// ObservabilityConfig holds observability configuration
type ObservabilityConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	ServiceName     string              `mapstructure:"serviceName"`
	ServiceVersion  string              `mapstructure:"serviceVersion"`
	ServiceInstance string              `mapstructure:"serviceInstance"`
	ConsoleOutput   bool                `mapstructure:"consoleOutput"`
	SampleRate      float64             `mapstructure:"sampleRate"`
	Metrics         MetricsConfig       `mapstructure:"metrics"`
	CustomMetrics   CustomMetricsConfig `mapstructure:"customMetrics"`
	Console         ConsoleConfig       `mapstructure:"console"`
	Prometheus      PrometheusConfig    `mapstructure:"prometheus"`
	OTLP            OTLPConfig          `mapstructure:"otlp"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CollectionInterval time.Duration `mapstructure:"collectionInterval"`
}

// ConsoleConfig holds console output configuration
type ConsoleConfig struct {
	PrettyPrint bool `mapstructure:"prettyPrint"`
}

// CustomMetricsConfig holds fine-grained custom metrics configuration
type CustomMetricsConfig struct {
	Navigation     NavigationMetricsConfig     `mapstructure:"navigation"`
	API            APIMetricsConfig            `mapstructure:"api"`
	Infrastructure InfrastructureMetricsConfig `mapstructure:"infrastructure"`
}

// NavigationMetricsConfig toggles navigator transition and gate metrics
type NavigationMetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// APIMetricsConfig toggles backend request metrics
type APIMetricsConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	TrackDuration bool `mapstructure:"trackDuration"`
}

// InfrastructureMetricsConfig holds infrastructure metrics configuration
type InfrastructureMetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	TrackRateLimits bool `mapstructure:"trackRateLimits"`
}

// PrometheusConfig holds Prometheus configuration
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Port     string `mapstructure:"port"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	ConfigFile string // Explicit config file; search paths are used when empty
	EnvFile    string // .env file to preload; ".env" when empty
	Verbose    bool   // Print a configuration sources summary to stderr
}

// LoadConfig loads configuration from a .env file, environment variables and
// a config file
func LoadConfig(opts LoadOptions) (*Config, error) {
	logf := func(format string, args ...any) {
		if opts.Verbose {
			log.Printf("[CONFIG] "+format, args...)
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// A missing .env file is normal outside development.
	if err := godotenv.Load(envFile); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else {
		logf("Loaded environment from %s", envFile)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/resumeunlocked/")
		v.AddConfigPath("$HOME/.resumeunlocked")
		v.AddConfigPath(".")
	}

	configFileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logf("No config file found, using defaults and environment variables")
	} else {
		configFileUsed = v.ConfigFileUsed()
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyFallbacks()

	if opts.Verbose {
		config.logConfigurationSources(configFileUsed)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateHTTPURL("api.baseURL", c.API.BaseURL); err != nil {
		return err
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("API rate limit requestsPerSecond must be positive when enabled")
	}

	if c.API.CircuitBreaker.Enabled &&
		(c.API.CircuitBreaker.FailureThreshold <= 0 || c.API.CircuitBreaker.FailureThreshold > 1) {
		return fmt.Errorf("circuit breaker failureThreshold must be in (0, 1]")
	}

	if c.Navigator.Countdown <= 0 {
		return fmt.Errorf("navigator countdown must be positive")
	}

	if c.State.Dir == "" {
		return fmt.Errorf("state directory is required")
	}

	if err := c.validateIdentity(); err != nil {
		return err
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Server.Sessions.Redis.Enabled && c.Server.Sessions.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis sessions are enabled")
	}

	validFormats := make(map[string]bool)
	for _, format := range c.App.SupportedFormats {
		validFormats[format] = true
	}
	if !validFormats[c.App.DefaultFormat] {
		return fmt.Errorf("invalid default format: %s", c.App.DefaultFormat)
	}

	if err := c.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	return nil
}

func (c *Config) validateIdentity() error {
	switch c.Identity.Provider {
	case "", "none":
		return nil
	case "oidc":
		oidc := c.Identity.OIDC
		if err := validateHTTPURL("identity.oidc.issuer", oidc.Issuer); err != nil {
			return err
		}
		if oidc.ClientID == "" {
			return fmt.Errorf("identity.oidc.clientID is required for the oidc provider")
		}
		if err := validateHTTPURL("identity.oidc.redirectURL", oidc.RedirectURL); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid identity provider: %s (must be 'none' or 'oidc')", c.Identity.Provider)
	}
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}

// ServerAddr returns host:port for the shell server
func (c *Config) ServerAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}
