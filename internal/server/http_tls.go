package server

import (
	"crypto/tls"
	"fmt"
	"net/http"
)

// configureTLS sets httpServer.TLSConfig according to the server mode. File
// based certificates come back with a reloader the caller must start.
func (s *Server) configureTLS(httpServer *http.Server) (*certReloader, error) {
	switch s.TLSConfig.Mode {
	case "", "disabled":
		return nil, nil
	case "server":
	default:
		return nil, fmt.Errorf("unsupported TLS mode: %s", s.TLSConfig.Mode)
	}

	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion(s.TLSConfig.MinVersion),
		ClientAuth: tls.NoClientCert,
	}

	// Content wins over files; it is what Vault hands us
	if s.TLSConfig.CertContent != "" && s.TLSConfig.KeyContent != "" {
		cert, err := tls.X509KeyPair([]byte(s.TLSConfig.CertContent), []byte(s.TLSConfig.KeyContent))
		if err != nil {
			return nil, fmt.Errorf("failed to load server cert/key from content: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		httpServer.TLSConfig = tlsConfig
		return nil, nil
	}

	if s.TLSConfig.CertFile == "" || s.TLSConfig.KeyFile == "" {
		return nil, fmt.Errorf("TLS certificate and key are required (provide either files or content)")
	}

	reloader, err := newCertReloader(s.TLSConfig.CertFile, s.TLSConfig.KeyFile, 0, s.Logger)
	if err != nil {
		return nil, err
	}
	tlsConfig.GetCertificate = reloader.GetCertificate
	httpServer.TLSConfig = tlsConfig
	return reloader, nil
}

func tlsMinVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
