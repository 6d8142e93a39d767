package mcpgateway

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// TLSConfig names the PEM files used to serve HTTPS. Setting ClientCAFile
// turns on mutual TLS.
type TLSConfig struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
}

// Enabled reports whether a certificate and key are configured.
func (c TLSConfig) Enabled() bool {
	return strings.TrimSpace(c.CertFile) != "" && strings.TrimSpace(c.KeyFile) != ""
}

// Build loads the configured files into a *tls.Config. It returns nil when
// TLS is not enabled.
func (c TLSConfig) Build() (*tls.Config, error) {
	if !c.Enabled() {
		if strings.TrimSpace(c.CertFile) != "" || strings.TrimSpace(c.KeyFile) != "" {
			return nil, fmt.Errorf("mcpgateway: TLS needs both a certificate and a key file")
		}
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("mcpgateway: load TLS key pair: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if strings.TrimSpace(c.ClientCAFile) != "" {
		pem, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("mcpgateway: read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mcpgateway: no certificates found in %s", c.ClientCAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
