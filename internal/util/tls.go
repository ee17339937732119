package util

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/mkovalv/pvewatch/internal/config"
)

// LoadTLSConfig loads TLS configuration for the Proxmox API client. A nil
// config with insecure=false yields nil, meaning stock TLS verification.
func LoadTLSConfig(cfg *config.TLSConfig, insecure bool) (*tls.Config, error) {
	if cfg == nil {
		if insecure {
			// Self-signed clusters without a distributed CA.
			return &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}, nil
		}
		return nil, nil
	}

	// Load client certificate and key
	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	// Load CA certificate
	caCert, err := os.ReadFile(cfg.CA)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	// Create CA certificate pool
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		RootCAs:            caPool,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}

	return tlsConfig, nil
}
