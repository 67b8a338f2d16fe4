// Package tls serves the job API over HTTPS with certificates managed by
// CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/geofetch/internal/domain"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use Let's Encrypt staging environment
	DNS      DNSConfig
}

// DNSConfig holds the Azure DNS zone used for DNS-01 challenges. HTTP-01
// and TLS-ALPN challenges are used when SubscriptionID is empty.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Validate checks the configuration of an enabled server.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Domains) == 0 {
		return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
	}
	if c.Email == "" {
		return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
	}
	if c.DNS.SubscriptionID != "" && c.DNS.ResourceGroupName == "" {
		return &domain.ConfigError{Field: "tls.azure_dns.resource_group_name", Message: "resource group is required for DNS-01 challenges"}
	}
	return nil
}

// Server runs an HTTP server, with automatic TLS when enabled.
type Server struct {
	config Config
	server *http.Server
	logger *slog.Logger
	magic  *certmagic.Config
}

// NewServer wraps srv. With TLS enabled the server's TLS configuration is
// replaced by one backed by CertMagic.
func NewServer(cfg Config, srv *http.Server, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{config: cfg, server: srv, logger: logger}
	if !cfg.Enabled {
		return s, nil
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	if cfg.DNS.SubscriptionID != "" {
		certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					ClientId:          cfg.DNS.ClientID, // Empty = System Assigned Managed Identity
				},
			},
		}
	}

	s.magic = certmagic.NewDefault()
	srv.TLSConfig = s.magic.TLSConfig()
	srv.TLSConfig.NextProtos = append([]string{"h2", "http/1.1"}, srv.TLSConfig.NextProtos...)
	return s, nil
}

// ManageCertificates obtains or renews the certificates of the configured
// domains. It is a no-op without TLS.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if s.magic == nil {
		return nil
	}
	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return err
	}
	s.logger.Info("certificates ready", "domains", s.config.Domains)
	return nil
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	var err error
	if s.magic == nil {
		s.logger.Info("starting HTTP server", "address", s.server.Addr)
		err = s.server.ListenAndServe()
	} else {
		s.logger.Info("starting HTTPS server", "address", s.server.Addr, "domains", s.config.Domains)
		err = s.server.ListenAndServeTLS("", "")
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.server.Shutdown(ctx)
}

// TLSConfig returns the TLS configuration, nil without TLS.
func (s *Server) TLSConfig() *tls.Config {
	return s.server.TLSConfig
}
