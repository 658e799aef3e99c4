package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/util"
)

// Manager resolves the server certificate: autocert in production,
// static files when configured, a generated self-signed cert otherwise.
type Manager struct {
	config   *config.ServerConfig
	autoCert *autocert.Manager
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		config: &cfg.Server,
	}

	if cfg.Server.AutoCert && cfg.Server.EnableTLS {
		m.setupAutoCert()
	}

	return m
}

func (m *Manager) setupAutoCert() {
	if err := os.MkdirAll(m.config.AutoCertDir, 0700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.config.Domain),
		Cache:      autocert.DirCache(m.config.AutoCertDir),
		Email:      m.config.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.config.Domain),
		zap.String("cache_dir", m.config.AutoCertDir))
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		if cert, err := m.autoCert.GetCertificate(hello); err == nil {
			return cert, nil
		}
	}

	if m.config.CertFile != "" && m.config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
		if err == nil {
			return &cert, nil
		}
	}

	return m.generateSelfSignedCert()
}

func (m *Manager) generateSelfSignedCert() (*tls.Certificate, error) {
	generator := NewDevCertGenerator(m.config.AutoCertDir)
	hosts := []string{
		m.config.Domain,
		"localhost",
		"127.0.0.1",
		"::1",
	}

	cert, err := generator.GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %v", err)
	}

	util.Info("Generated self-signed certificate", zap.Strings("hosts", hosts))
	return &cert, nil
}

func (m *Manager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

func (m *Manager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
