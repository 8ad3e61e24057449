package ldap

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCACert is a throwaway self-signed CA.
const testCACert = `-----BEGIN CERTIFICATE-----
MIIDEzCCAfugAwIBAgIULjiDoVc+872RP0yCrOulKvowHXQwDQYJKoZIhvcNAQEL
BQAwGTEXMBUGA1UEAwwOZGlyc3J2IHRlc3QgQ0EwHhcNMjYxMDE5MTQwMjE2WhcN
MzYxMDE2MTQwMjE2WjAZMRcwFQYDVQQDDA5kaXJzcnYgdGVzdCBDQTCCASIwDQYJ
KoZIhvcNAQEBBQADggEPADCCAQoCggEBALhxb8YbEODg5Tqjn+miB3aNfrk+/uo3
JNXPQ1FdvU4wIhcVYQRnA+P5lP678e7cKuCWohJekR5X41RAyByFsas/3WnqsF3F
KGukbBreJmaIU3g41wtN/5T5GHQmSM3J2uqO0ZGBwlMpRRMFBkz0LUr7WRFiLDnw
wiiOxyGzMXfL/B9lbEZs6wMxdx51AnlF1qxXh+RobMu6uPeOc4PUpUJLizm3s3la
wBvAF9TX7GaVOopWygxebL+IS80FAsumk2kNZoCckeK7mpXzSTN5Cu5FcE3Qzwas
NF+rgTZUm29izxSaac272xFIpC2oEz1Du3ANgfvOHtJThEir5JCSqOkCAwEAAaNT
MFEwHQYDVR0OBBYEFD/YJ/MuvR+niw+JubJ8+6+E+5TzMB8GA1UdIwQYMBaAFD/Y
J/MuvR+niw+JubJ8+6+E+5TzMA8GA1UdEwEB/wQFMAMBAf8wDQYJKoZIhvcNAQEL
BQADggEBAGKxk7eIHMITg9Fw0ytBBQ0N6Qq1rqcJEwfRH5AyeREXhkWf17Dd3eqg
RZ7cgVkL+MNcOd4pavDI4zeIuIV3urSnkZ9R/cbRY67qAssF1cNgyC68o4zG4/35
dtOKY7Y+s7rmrNswQgQfjKpEs3EKgLlCIwnx17/Op651aKhSXZHMK3rmTNN/irF6
FH5FbYzWT7NYe1qAhhZgdJenKx3AwvFmNwRt7pzN0q6SasVaT5gHVjQ3nDKmGMF5
hq0ztIui3mhcEJctPZTeVvfPVWLKkZ9iZZDW/pJKhUkeiB7HbS7WwTINf8wVmLTy
TdfSMG1x6b9y5bauCXxzs0+cAEjZPwo=
-----END CERTIFICATE-----`

func TestValidateConfig(t *testing.T) {
	valid := func(mutate func(*ConnectionConfig)) *ConnectionConfig {
		cfg := &ConnectionConfig{
			MaxConnections: 10,
			MaxIdleTime:    5 * time.Minute,
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			BackoffFactor:  2.0,
		}
		mutate(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  *ConnectionConfig
		wantErr string
	}{
		{name: "default", config: DefaultConfig()},
		{name: "zero max connections", config: valid(func(c *ConnectionConfig) { c.MaxConnections = 0 }), wantErr: "must be positive"},
		{name: "too many max connections", config: valid(func(c *ConnectionConfig) { c.MaxConnections = 200 }), wantErr: "too high"},
		{name: "zero max idle time", config: valid(func(c *ConnectionConfig) { c.MaxIdleTime = 0 }), wantErr: "MaxIdleTime"},
		{name: "zero timeout", config: valid(func(c *ConnectionConfig) { c.Timeout = 0 }), wantErr: "timeout"},
		{name: "negative max retries", config: valid(func(c *ConnectionConfig) { c.MaxRetries = -1 }), wantErr: "MaxRetries"},
		{name: "backoff factor of one", config: valid(func(c *ConnectionConfig) { c.BackoffFactor = 1.0 }), wantErr: "BackoffFactor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.config)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewConnectionPool(t *testing.T) {
	tests := []struct {
		name    string
		urls    []string
		wantErr string
	}{
		{name: "ldaps and ldap", urls: []string{"ldaps://ds1.example.com:636", "ldap://ds2.example.com:389"}},
		{name: "ldapi", urls: []string{"ldapi://%2fvar%2frun%2fslapd-ds1.socket"}},
		{name: "no urls or domain", wantErr: "either domain or LDAP URLs"},
		{name: "bad scheme", urls: []string{"http://ds1.example.com"}, wantErr: "invalid LDAP URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.LDAPURLs = tt.urls
			config.HealthCheck = 0

			pool, err := NewConnectionPool(t.Context(), config)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, pool.Close())
		})
	}
}

func TestConnectionPool_Stats(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://ds1.example.com:636"}

	pool, err := NewConnectionPool(t.Context(), config)
	require.NoError(t, err)
	defer pool.Close()

	stats := pool.Stats()
	assert.Zero(t, stats.Active)
	assert.Zero(t, stats.Created)
	assert.Positive(t, stats.Uptime)
}

func TestConnectionPool_Close(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://ds1.example.com:636"}

	pool, err := NewConnectionPool(t.Context(), config)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	assert.NoError(t, pool.Close())

	_, err = pool.Get(t.Context())
	assert.ErrorContains(t, err, "connection pool is closed")
}

func TestPooledConnection_Methods(t *testing.T) {
	serverInfo := &ServerInfo{Host: "ds1.example.com", Port: 636, UseTLS: true, Source: "config"}
	conn := &PooledConnection{
		lastUsed:   time.Now(),
		healthy:    true,
		serverInfo: serverInfo,
	}

	assert.Same(t, serverInfo, conn.ServerInfo())
	assert.True(t, conn.IsHealthy())
	assert.False(t, conn.LastUsed().IsZero())
	assert.Nil(t, conn.Conn())

	conn.Close()
}

func TestConnectionError(t *testing.T) {
	err := NewConnectionError("dial failed", true, nil)
	assert.Equal(t, "dial failed", err.Error())
	assert.True(t, err.IsRetryable())

	cause := NewConnectionError("refused", false, nil)
	wrapped := NewConnectionError("dial failed", true, cause)
	assert.Equal(t, "dial failed: refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestTLSConfigFor(t *testing.T) {
	tests := []struct {
		name           string
		tlsConfig      *tls.Config
		host           string
		wantServerName string
	}{
		{name: "host name", tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}, host: "ds1.example.com", wantServerName: "ds1.example.com"},
		{name: "explicit server name kept", tlsConfig: &tls.Config{ServerName: "ds.example.com"}, host: "10.0.0.5", wantServerName: "ds.example.com"},
		{name: "nil config", host: "ds1.example.com", wantServerName: "ds1.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &connectionPool{config: &ConnectionConfig{TLSConfig: tt.tlsConfig}}
			got := p.tlsConfigFor(&ServerInfo{Host: tt.host, Port: 636, UseTLS: true})

			require.NotNil(t, got)
			assert.Equal(t, tt.wantServerName, got.ServerName)
			if tt.tlsConfig != nil {
				assert.NotSame(t, tt.tlsConfig, got)
			}
		})
	}
}

func TestBuildCertPool(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, []byte(testCACert), 0o600))

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "system only"},
		{name: "content", content: testCACert},
		{name: "file", file: caFile},
		{name: "invalid content", content: "this is not PEM", wantErr: "invalid PEM format"},
		{name: "missing file", file: "/nonexistent/ca.pem", wantErr: "failed to read CA certificate file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := buildCertPool(tt.file, tt.content)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, pool)
		})
	}
}

func TestNewConnectionPool_TLSPrepared(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://ds1.example.com:636"}
	config.TLSCACert = testCACert

	pool, err := NewConnectionPool(t.Context(), config)
	require.NoError(t, err)
	defer pool.Close()

	assert.NotNil(t, config.TLSConfig.RootCAs)
}

func TestNewConnectionPool_BadClientCert(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://ds1.example.com:636"}
	config.TLSClientCertFile = "/nonexistent/cert.pem"
	config.TLSClientKeyFile = "/nonexistent/key.pem"

	_, err := NewConnectionPool(t.Context(), config)
	assert.ErrorContains(t, err, "failed to load client certificate")
}

func TestConnectionPool_HomeServer(t *testing.T) {
	ds1 := &ServerInfo{Host: "ds1.example.com", Port: 636, UseTLS: true}
	ds2 := &ServerInfo{Host: "ds2.example.com", Port: 636, UseTLS: true}
	ds3 := &ServerInfo{Host: "ds3.example.com", Port: 636, UseTLS: true}

	p := &connectionPool{
		ctx:     t.Context(),
		config:  DefaultConfig(),
		servers: []*ServerInfo{ds1, ds2, ds3},
		home:    -1,
		idle:    make(chan *PooledConnection, 1),
		started: time.Now(),
	}

	assert.Equal(t, []*ServerInfo{ds1, ds2, ds3}, p.dialOrder())
	assert.Empty(t, p.Stats().HomeServer)

	p.setHome(ds1)
	assert.Equal(t, "ldaps://ds1.example.com:636", p.Stats().HomeServer)
	assert.Zero(t, p.Stats().Failovers)

	p.setHome(ds3)
	assert.Equal(t, []*ServerInfo{ds3, ds1, ds2}, p.dialOrder())
	assert.Equal(t, "ldaps://ds3.example.com:636", p.Stats().HomeServer)
	assert.EqualValues(t, 1, p.Stats().Failovers)

	// Unknown servers and repeats leave the home server alone.
	p.setHome(&ServerInfo{Host: "other.example.com", Port: 636})
	p.setHome(ds3)
	assert.EqualValues(t, 1, p.Stats().Failovers)
}

func TestConnectionPool_PutDropsStaleServer(t *testing.T) {
	ds1 := &ServerInfo{Host: "ds1.example.com", Port: 389}
	ds2 := &ServerInfo{Host: "ds2.example.com", Port: 389}

	p := &connectionPool{
		ctx:     t.Context(),
		config:  DefaultConfig(),
		servers: []*ServerInfo{ds1, ds2},
		home:    1,
		idle:    make(chan *PooledConnection, 1),
	}
	p.active.Store(1)

	p.put(&PooledConnection{healthy: true, lastUsed: time.Now(), serverInfo: ds1})
	assert.Zero(t, p.active.Load())
	assert.Empty(t, p.idle)
}

func BenchmarkValidateConfig(b *testing.B) {
	config := DefaultConfig()
	for b.Loop() {
		if err := validateConfig(config); err != nil {
			b.Fatal(err)
		}
	}
}
