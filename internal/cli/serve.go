package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/config"
	"resumeunlocked/internal/identity"
	"resumeunlocked/internal/observability"
	"resumeunlocked/internal/server"
	"resumeunlocked/internal/storage"
)

type serveOptions struct {
	port     string
	host     string
	tlsMode  string
	certFile string
	keyFile  string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the onboarding flow for a browser",
		Long: `Start a local HTTP shell that runs one navigator per browser tab.

Available endpoints:
- GET  /state: Current screen, session and countdown of this tab
- POST /login, /register, /logout: Session management
- GET  /auth/federated, /auth/callback: Identity provider sign-in
- POST /upload, /roles, /congratulations/go: Onboarding funnel
- POST /tab, /history/back, /history/forward: Dashboard navigation
- POST /profile/refresh: Reload the stored profile
- GET  /r/{code}: Public resume links
- GET  /health, /stats: Health check and server statistics

Tabs are identified by a cookie. With server.sessions.redis.enabled their
storage lives in Redis and survives restarts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "Port to listen on (default from config)")
	cmd.Flags().StringVar(&opts.host, "host", "", "Host to bind to (default from config)")
	cmd.Flags().StringVar(&opts.tlsMode, "tls-mode", "", "TLS mode: disabled, server (overrides config)")
	cmd.Flags().StringVar(&opts.certFile, "cert-file", "", "Server certificate file (PEM, overrides config)")
	cmd.Flags().StringVar(&opts.keyFile, "key-file", "", "Server private key file (PEM, overrides config)")
	return cmd
}

// apply copies set flags over the loaded configuration
func (o serveOptions) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Port, o.port)
	set(&cfg.Server.Host, o.host)
	set(&cfg.Server.TLS.Mode, o.tlsMode)
	set(&cfg.Server.TLS.CertFile, o.certFile)
	set(&cfg.Server.TLS.KeyFile, o.keyFile)
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	opts.apply(cfg)
	if err := cfg.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}

	om, err := observability.NewObservabilityManager(
		observability.GetObservabilityConfig(cfg, Version), cfg,
		observability.WithLogf(func(format string, args ...any) {
			logger.Info(fmt.Sprintf(format, args...))
		}))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := om.Shutdown(shutdownCtx); err != nil {
			logger.LogError(err, "Failed to shutdown observability")
		}
	}()

	stores := server.MemoryStores()
	var storagePing func() error
	if rc := cfg.Server.Sessions.Redis; rc.Enabled {
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		defer func() { _ = client.Close() }()

		probe := storage.NewRedisStore(client, rc.Prefix, 0)
		if err := probe.Ping(ctx); err != nil {
			return fmt.Errorf("redis unavailable at %s: %w", rc.Addr, err)
		}
		storagePing = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return probe.Ping(pingCtx)
		}
		stores = server.RedisStores(client, rc.Prefix, cfg.Server.Sessions.TTL)
		logger.Info("Tab storage in Redis", "addr", rc.Addr, "prefix", rc.Prefix)
	}

	tabOpts := []server.TabOption{
		server.WithTabRecorder(om.Recorder()),
		server.WithIdleTTL(cfg.Server.Sessions.TTL),
	}
	if cfg.Identity.Provider == identity.ProviderOIDC {
		// Discovery runs once; each tab gets its own token storage
		provider, err := identity.NewOIDCProvider(ctx, cfg.Identity.OIDC, storage.NewMemoryStore(), logger)
		if err != nil {
			return err
		}
		tabOpts = append(tabOpts, server.WithFederation(provider))
	}

	tabs := server.NewTabManager(cfg.API, cfg.Navigator, stores, logger, tabOpts...)
	tabs.StartEviction(time.Minute)

	public := api.NewClient(cfg.API, storage.NewMemoryStore(), logger, api.WithRecorder(om.Recorder()))

	serverCfg := server.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Version:        Version,
		TLSConfig:      cfg.Server.TLS,
		CookieName:     cfg.Server.Sessions.CookieName,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxRequestSize: cfg.Server.MaxBodySize,
		RateLimit:      &cfg.Server.RateLimit,
	}
	srv := server.NewServer(cfg, serverCfg, tabs, public, om, logger)
	srv.StoragePing = storagePing
	return srv.Start(ctx)
}
