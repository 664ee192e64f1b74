package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	httpServer := s.setupHTTPServer()

	reloader, err := s.configureTLS(httpServer)
	if err != nil {
		return err
	}
	if reloader != nil {
		if err := reloader.Start(); err != nil {
			return fmt.Errorf("failed to watch TLS certificates: %w", err)
		}
		defer reloader.Stop()
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	s.displayServerInfo(ln.Addr().String(), httpServer.TLSConfig != nil)
	return s.serve(ctx, httpServer, ln)
}

// setupHTTPServer creates and configures the HTTP server
func (s *Server) setupHTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.Host, s.Port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
		IdleTimeout:       s.IdleTimeout,
	}
}

// serve runs server on ln and handles graceful shutdown
func (s *Server) serve(ctx context.Context, server *http.Server, ln net.Listener) error {
	serverErrors := make(chan error, 1)

	go func() {
		s.Logger.Info("Starting HTTP server",
			"address", ln.Addr().String(),
			"tls_enabled", server.TLSConfig != nil)

		var err error
		if server.TLSConfig != nil {
			// Certificates are supplied through TLSConfig.GetCertificate
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.Logger.Info("Received shutdown signal, starting graceful shutdown")
		return s.performGracefulShutdown(server)
	}
}

// performGracefulShutdown handles the graceful shutdown process
func (s *Server) performGracefulShutdown(server *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.RateLimiter != nil {
		s.RateLimiter.Close()
		s.Logger.Info("Rate limiter cleaned up")
	}
	s.Tabs.Close()

	s.Logger.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.Logger.LogError(err, "Failed to shutdown server gracefully, forcing close")
		return server.Close()
	}

	s.Logger.Info("Server shutdown completed successfully")
	return nil
}

// displayServerInfo logs the address and the enabled protections
func (s *Server) displayServerInfo(addr string, tlsEnabled bool) {
	scheme := "http"
	if tlsEnabled {
		scheme = "https"
	}
	s.Logger.Info("Shell server ready",
		"url", fmt.Sprintf("%s://%s", scheme, addr),
		"max_request_size_bytes", s.MaxRequestSize,
		"rate_limiting", s.RateLimiter != nil,
		"federated_sign_in", s.Tabs.oidc != nil)
}
