package ldap

import (
	"crypto/tls"
	"time"

	"github.com/creasty/defaults"
)

// ConnectionConfig describes how to reach and authenticate to the
// directory. Zero-valued fields tagged with a default take it in
// DefaultConfig.
type ConnectionConfig struct {
	// Domain is resolved through _ldap._tcp SRV records unless LDAPURLs is set.
	Domain   string
	LDAPURLs []string
	Timeout  time.Duration `default:"30s"`

	BindDN   string
	Password string

	KerberosPrincipal      string
	KerberosRealm          string
	KerberosKeytab         string
	KerberosConfig         string
	KerberosCCache         string
	KerberosSPN            string // defaults to ldap/<host>
	KerberosDNSLookupKDC   bool   `default:"true"`
	KerberosDNSLookupRealm bool

	// UseExternalAuth selects SASL EXTERNAL: ldapi:// autobind, or the TLS
	// client certificate.
	UseExternalAuth bool

	TLSConfig *tls.Config
	// UseTLS upgrades ldap:// connections with StartTLS.
	UseTLS            bool `default:"true"`
	SkipTLS           bool
	TLSCACertFile     string
	TLSCACert         string
	TLSClientCertFile string
	TLSClientKeyFile  string

	MaxConnections int           `default:"10"`
	MaxIdleTime    time.Duration `default:"5m"`
	HealthCheck    time.Duration `default:"30s"`

	MaxRetries     int           `default:"3"`
	InitialBackoff time.Duration `default:"500ms"`
	MaxBackoff     time.Duration `default:"30s"`
	BackoffFactor  float64       `default:"2.0"`
}

// DefaultConfig returns the tagged defaults with certificate verification
// on and TLS 1.2 as the floor.
func DefaultConfig() *ConnectionConfig {
	config := new(ConnectionConfig)
	defaults.MustSet(config)
	config.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	return config
}

// AuthMethod is how a connection authenticates after connecting.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota
	AuthMethodKerberos
	AuthMethodExternal
	AuthMethodAnonymous
)

var authMethodNames = map[AuthMethod]string{
	AuthMethodSimpleBind: "simple",
	AuthMethodKerberos:   "kerberos",
	AuthMethodExternal:   "external",
	AuthMethodAnonymous:  "anonymous",
}

func (a AuthMethod) String() string {
	if name, ok := authMethodNames[a]; ok {
		return name
	}
	return "unknown"
}

// GetAuthMethod picks the authentication method. A Kerberos realm wins,
// then a bind DN with a password, then SASL EXTERNAL, then an
// unauthenticated bind for a bare DN.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	hasClientCert := c.TLSClientCertFile != "" && c.TLSClientKeyFile != ""

	switch {
	case c.KerberosRealm != "":
		return AuthMethodKerberos
	case c.BindDN != "" && c.Password != "":
		return AuthMethodSimpleBind
	case c.UseExternalAuth || hasClientCert:
		return AuthMethodExternal
	case c.BindDN != "":
		return AuthMethodSimpleBind
	default:
		return AuthMethodAnonymous
	}
}

func (c *ConnectionConfig) HasAuthentication() bool {
	return c.GetAuthMethod() != AuthMethodAnonymous
}

// RetryableError is implemented by errors that know whether a retry can
// succeed.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError is a failure to obtain a usable connection.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{message: message, retryable: retryable, cause: cause}
}

func (e *ConnectionError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *ConnectionError) IsRetryable() bool { return e.retryable }

func (e *ConnectionError) Unwrap() error { return e.cause }
