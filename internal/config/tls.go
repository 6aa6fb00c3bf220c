package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// TemporalTLS returns the client TLS config for the Temporal frontend, or
// nil when TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY are both unset. Without an
// explicit server name the host part of TEMPORAL_ADDRESS is verified.
func (c *Config) TemporalTLS() (*tls.Config, error) {
	if c.TemporalTLSCert == "" && c.TemporalTLSKey == "" {
		return nil, nil
	}
	if c.TemporalTLSCert == "" || c.TemporalTLSKey == "" {
		return nil, fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must be set together")
	}

	cert, err := tls.LoadX509KeyPair(c.TemporalTLSCert, c.TemporalTLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}

	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ServerName:   c.temporalServerName(),
	}
	if c.TemporalTLSCACert == "" {
		return out, nil
	}

	roots, err := loadCertPool(c.TemporalTLSCACert)
	if err != nil {
		return nil, err
	}
	out.RootCAs = roots
	return out, nil
}

func (c *Config) temporalServerName() string {
	if c.TemporalTLSServerName != "" {
		return c.TemporalTLSServerName
	}
	host, _, err := net.SplitHostPort(c.TemporalAddress)
	if err != nil {
		return ""
	}
	return host
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read temporal CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("parse temporal CA cert %s: no certificates found", path)
	}
	return pool, nil
}
