package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Backend API
	v.SetDefault("api.baseURL", "http://localhost:8000")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.userAgent", "resumeunlocked")
	v.SetDefault("api.maxUploadSize", 10*1024*1024) // 10MB

	v.SetDefault("api.circuitBreaker.enabled", true)
	v.SetDefault("api.circuitBreaker.maxRequests", 3)
	v.SetDefault("api.circuitBreaker.interval", 60*time.Second)
	v.SetDefault("api.circuitBreaker.timeout", 30*time.Second)
	v.SetDefault("api.circuitBreaker.minRequests", 5)
	v.SetDefault("api.circuitBreaker.failureThreshold", 0.6)

	v.SetDefault("api.rateLimit.enabled", true)
	v.SetDefault("api.rateLimit.requestsPerSecond", 10.0)
	v.SetDefault("api.rateLimit.burst", 20)

	// Navigator
	v.SetDefault("navigator.countdown", 15*time.Second)
	v.SetDefault("navigator.defaultTab", "profile")
	v.SetDefault("navigator.syncExternalLogout", false)
	v.SetDefault("navigator.appRoot", "http://localhost:8080/")

	// Local state
	v.SetDefault("state.dir", defaultStateDir())

	// Identity
	v.SetDefault("identity.provider", "none")
	v.SetDefault("identity.oidc.issuer", "")
	v.SetDefault("identity.oidc.clientID", "")
	v.SetDefault("identity.oidc.clientSecret", "")
	v.SetDefault("identity.oidc.redirectURL", "http://127.0.0.1:8085/callback")
	v.SetDefault("identity.oidc.scopes", []string{"openid", "profile", "email"})
	v.SetDefault("identity.oidc.endSessionURL", "")
	v.SetDefault("identity.oidc.loginTimeout", 5*time.Minute)

	// Server Configuration
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 60*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.maxBodySize", 10*1024*1024)

	v.SetDefault("server.tls.mode", "disabled") // disabled, server
	v.SetDefault("server.tls.certFile", "")
	v.SetDefault("server.tls.keyFile", "")
	v.SetDefault("server.tls.minVersion", "1.2")

	v.SetDefault("server.rateLimit.enabled", false)
	v.SetDefault("server.rateLimit.requestsPerMin", 120)
	v.SetDefault("server.rateLimit.burstCapacity", 20)
	v.SetDefault("server.rateLimit.byIP", true)
	v.SetDefault("server.rateLimit.window", time.Minute)

	v.SetDefault("server.sessions.cookieName", "ru_tab")
	v.SetDefault("server.sessions.ttl", 24*time.Hour)
	v.SetDefault("server.sessions.redis.enabled", false)
	v.SetDefault("server.sessions.redis.addr", "localhost:6379")
	v.SetDefault("server.sessions.redis.password", "")
	v.SetDefault("server.sessions.redis.db", 0)
	v.SetDefault("server.sessions.redis.prefix", "resumeunlocked:tab:")

	// App Configuration
	v.SetDefault("app.logLevel", "warn")
	v.SetDefault("app.defaultFormat", "text")
	v.SetDefault("app.supportedFormats", []string{"json", "text", "markdown"})
	v.SetDefault("app.maxFileSize", 10*1024*1024)

	// Vault Configuration
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.tokenFile", "")
	v.SetDefault("vault.namespace", "")
	v.SetDefault("vault.secrets.identityClientSecret", "")
	v.SetDefault("vault.secrets.redisPassword", "")
	v.SetDefault("vault.secrets.tlsCerts", "")

	// Observability Configuration
	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.serviceName", "resumeunlocked")
	v.SetDefault("observability.serviceVersion", "")  // Will use app version if empty
	v.SetDefault("observability.serviceInstance", "") // Will be auto-generated if empty
	v.SetDefault("observability.consoleOutput", false)
	v.SetDefault("observability.sampleRate", 1.0)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.collectionInterval", 15*time.Second)

	v.SetDefault("observability.customMetrics.navigation.enabled", true)
	v.SetDefault("observability.customMetrics.api.enabled", true)
	v.SetDefault("observability.customMetrics.api.trackDuration", true)
	v.SetDefault("observability.customMetrics.infrastructure.enabled", true)
	v.SetDefault("observability.customMetrics.infrastructure.trackRateLimits", true)

	v.SetDefault("observability.console.prettyPrint", true)

	v.SetDefault("observability.prometheus.enabled", false)
	v.SetDefault("observability.prometheus.endpoint", "/metrics")
	v.SetDefault("observability.prometheus.port", "9090")

	v.SetDefault("observability.otlp.enabled", false)
	v.SetDefault("observability.otlp.endpoint", "http://localhost:4318")
	v.SetDefault("observability.otlp.insecure", true)
	v.SetDefault("observability.otlp.headers", map[string]string{})
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".resumeunlocked", "state")
	}
	return filepath.Join(home, ".resumeunlocked", "state")
}
