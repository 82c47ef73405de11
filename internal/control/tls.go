package control

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSConfig points at the PEM material for mutually-authenticated HTTPS
// between control plane and hosts.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
	// Insecure disables client certificate verification; development only.
	Insecure bool
}

func (c *TLSConfig) load() (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("load certificate: %w", err)
	}
	pool := x509.NewCertPool()
	ca, err := os.ReadFile(c.CAFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("load CA: %w", err)
	}
	if !pool.AppendCertsFromPEM(ca) {
		return tls.Certificate{}, nil, fmt.Errorf("no certificates in %s", c.CAFile)
	}
	return cert, pool, nil
}

// Server builds the listener-side TLS configuration.
func (c *TLSConfig) Server() (*tls.Config, error) {
	cert, pool, err := c.load()
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	if c.Insecure {
		cfg.ClientAuth = tls.NoClientCert
	}
	return cfg, nil
}

// Client builds an HTTP client presenting the local certificate.
func (c *TLSConfig) Client() (*http.Client, error) {
	cert, pool, err := c.load()
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS12,
			},
		},
	}, nil
}
