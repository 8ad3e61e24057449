package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// prepareTLSConfig fills config.TLSConfig from the file and PEM settings.
// 389-DS instances commonly serve a certificate from their own self-signed
// CA (ca.crt in the instance config directory), so the CA bundle extends
// rather than replaces the system roots. The client certificate, when set,
// is presented for SSLCLIENTAUTH and SASL/EXTERNAL binds.
func prepareTLSConfig(config *ConnectionConfig) error {
	if config.TLSConfig == nil {
		config.TLSConfig = DefaultConfig().TLSConfig
	}

	if config.TLSConfig.RootCAs == nil {
		roots, err := buildCertPool(config.TLSCACertFile, config.TLSCACert)
		if err != nil {
			return err
		}
		config.TLSConfig.RootCAs = roots
	}

	if config.TLSClientCertFile == "" || config.TLSClientKeyFile == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(config.TLSClientCertFile, config.TLSClientKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load client certificate: %w", err)
	}
	config.TLSConfig.Certificates = []tls.Certificate{cert}
	return nil
}

// buildCertPool returns the system roots plus the certificates in caFile
// and caPEM.
func buildCertPool(caFile, caPEM string) (*x509.CertPool, error) {
	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}

	if caFile != "" {
		data, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		if !roots.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no valid certificates in CA certificate file %s", caFile)
		}
	}
	if caPEM != "" && !roots.AppendCertsFromPEM([]byte(caPEM)) {
		return nil, errors.New("invalid PEM format in CA certificate content")
	}
	return roots, nil
}

// tlsConfigFor returns a copy of the pool's TLS settings verifying server's
// host name unless a ServerName is configured.
func (p *connectionPool) tlsConfigFor(server *ServerInfo) *tls.Config {
	base := p.config.TLSConfig
	if base == nil {
		base = DefaultConfig().TLSConfig
	}
	cfg := base.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = server.Host
	}
	return cfg
}
