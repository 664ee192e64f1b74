package server

import (
	"time"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/config"
	resumeErrors "resumeunlocked/internal/errors"
	"resumeunlocked/internal/navigator"
	"resumeunlocked/internal/observability"
)

// LoginRequest is the body of POST /login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /register
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RolesRequest is the body of POST /roles
type RolesRequest struct {
	Roles []string `json:"roles"`
}

// TabRequest is the body of POST /tab
type TabRequest struct {
	Tab string `json:"tab"`
}

// StateResponse is what every navigation endpoint answers with
type StateResponse struct {
	navigator.State
	CountdownSeconds int `json:"countdownSeconds,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Server hosts one navigator per browser tab behind a small JSON API
type Server struct {
	Host    string
	Port    string
	Version string

	// Full application configuration
	AppConfig *config.Config

	// TLS Configuration
	TLSConfig config.TLSConfig

	// Per-tab navigators
	Tabs       *TabManager
	CookieName string

	// Unauthenticated client for public resume links and health checks
	Public *api.Client

	// Timeout configurations
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Request size limit
	MaxRequestSize int64

	// Rate limiting
	RateLimit   *config.RateLimitConfig
	RateLimiter *RateLimiter
	recorder    rateLimitRecorder

	// Tracing and metrics; nil disables both
	Observability *observability.ObservabilityManager

	// Optional readiness probe for shared tab storage
	StoragePing func() error

	// Logger
	Logger *resumeErrors.Logger
}

// ServerConfig holds configuration for creating a Server instance
type ServerConfig struct {
	Host           string
	Port           string
	Version        string
	TLSConfig      config.TLSConfig
	CookieName     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxRequestSize int64
	RateLimit      *config.RateLimitConfig
}

// NewServer creates a new Server instance from a ServerConfig struct
func NewServer(appCfg *config.Config, cfg ServerConfig, tabs *TabManager, public *api.Client, om *observability.ObservabilityManager, logger *resumeErrors.Logger) *Server {
	var rateLimiter *RateLimiter
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		rateLimiter = NewRateLimiter(
			cfg.RateLimit.RequestsPerMin,
			cfg.RateLimit.BurstCapacity,
			cfg.RateLimit.Window,
			logger,
		)
	}

	cookie := cfg.CookieName
	if cookie == "" {
		cookie = "resumeunlocked_tab"
	}

	return &Server{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Version:        cfg.Version,
		AppConfig:      appCfg,
		TLSConfig:      cfg.TLSConfig,
		Tabs:           tabs,
		CookieName:     cookie,
		Public:         public,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxRequestSize: cfg.MaxRequestSize,
		RateLimit:      cfg.RateLimit,
		RateLimiter:    rateLimiter,
		recorder:       om.Recorder(),
		Observability:  om,
		Logger:         logger,
	}
}
