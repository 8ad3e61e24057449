package ldap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

var errNoKerberosCredentials = errors.New("no suitable credentials found for Kerberos authentication")

// performKerberosAuth runs a SASL GSSAPI bind on conn as the configured
// principal.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	if err := prepareKerberosConfig(cfg); err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}
	if err := ensureKrb5Conf(ctx, cfg); err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	client, err := createGSSAPIClient(ctx, cfg)
	if err != nil {
		LogKerberosEvent(ctx, "ticket_acquisition_failed", map[string]any{
			"principal": cfg.KerberosPrincipal,
			"realm":     cfg.KerberosRealm,
			"error":     err.Error(),
		})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() { _ = client.DeleteSecContext() }()

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		LogKerberosEvent(ctx, "authentication_failed", map[string]any{"spn": spn, "error": err.Error()})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	LogKerberosEvent(ctx, "ticket_acquired", map[string]any{"spn": spn})
	return nil
}

// credentialSource is a credential cache or keytab found on disk. implicit
// sources come from KRB5CCNAME, KRB5_KTNAME or the system defaults.
type credentialSource struct {
	keytab   bool
	path     string
	implicit bool
}

// findCredentials lists the readable ccaches and keytabs, best first.
func findCredentials(cfg *ConnectionConfig) []credentialSource {
	candidates := []credentialSource{
		{path: cfg.KerberosCCache},
		{path: getDefaultCCachePath(), implicit: true},
		{keytab: true, path: cfg.KerberosKeytab},
		{keytab: true, path: getDefaultKeytabPath(), implicit: true},
	}
	var found []credentialSource
	for _, c := range candidates {
		if fileExists(c.path) {
			found = append(found, c)
		}
	}
	return found
}

// hasCredentials reports whether cfg can authenticate without a password
// through a ccache or a keytab.
func hasCredentials(cfg *ConnectionConfig) (ccache, keytab bool) {
	for _, c := range findCredentials(cfg) {
		if c.keytab {
			keytab = true
		} else {
			ccache = true
		}
	}
	return ccache, keytab
}

// createGSSAPIClient uses the first usable credential from findCredentials
// and falls back to the password. A default keytab is only used with an
// explicit principal.
func createGSSAPIClient(ctx context.Context, cfg *ConnectionConfig) (ldap.GSSAPIClient, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = defaultKrb5Conf
	}
	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s; "+
			"create it or set kerberos_config. Example minimal configuration:\n%s",
			krb5conf, generateExampleKrb5Conf(cfg))
	}

	noFAST := krb5client.DisablePAFXFAST(true)
	principal := cfg.KerberosPrincipal

	for _, c := range findCredentials(cfg) {
		fields := map[string]any{"default": c.implicit}
		switch {
		case !c.keytab:
			fields["ccache"] = c.path
			LogKerberosEvent(ctx, "credentials_cached", fields)
			return gssapi.NewClientFromCCache(c.path, krb5conf, noFAST)
		case c.implicit && principal == "":
			continue
		default:
			fields["keytab"] = c.path
			LogKerberosEvent(ctx, "keytab_loaded", fields)
			return gssapi.NewClientWithKeytab(principal, cfg.KerberosRealm, c.path, krb5conf, noFAST)
		}
	}

	if principal == "" || cfg.Password == "" {
		return nil, errNoKerberosCredentials
	}
	return gssapi.NewClientWithPassword(principal, cfg.KerberosRealm, cfg.Password, krb5conf, noFAST)
}

// buildServicePrincipal returns cfg.KerberosSPN, or ldap/<host> in lower case.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	switch {
	case cfg == nil:
		return "", errors.New("configuration is required for service principal")
	case cfg.KerberosSPN != "":
		return cfg.KerberosSPN, nil
	case serverInfo == nil || serverInfo.Host == "":
		return "", errors.New("hostname is required for service principal")
	}
	return "ldap/" + strings.ToLower(serverInfo.Host), nil
}

// prepareKerberosConfig splits principal@REALM and checks that a credential
// source exists. An explicit realm wins over the principal's.
func prepareKerberosConfig(cfg *ConnectionConfig) error {
	if cfg == nil {
		return errors.New("configuration cannot be nil")
	}

	if user, realm, ok := strings.Cut(cfg.KerberosPrincipal, "@"); ok {
		cfg.KerberosPrincipal = user
		if cfg.KerberosRealm == "" {
			cfg.KerberosRealm = realm
		}
	}
	if cfg.KerberosRealm == "" {
		return errors.New("kerberos realm is required (set kerberos_realm or use principal@REALM)")
	}

	ccache, keytab := hasCredentials(cfg)
	switch {
	case !ccache && cfg.KerberosPrincipal == "":
		return errors.New("kerberos principal is required without a credential cache")
	case !ccache && !keytab && cfg.Password == "":
		return errors.New("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab or bind_password")
	}
	return nil
}

// envPath reads a FILE: style path from the environment.
func envPath(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return strings.TrimPrefix(v, "FILE:")
	}
	return fallback
}

func getDefaultCCachePath() string {
	return envPath("KRB5CCNAME", fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid()))
}

func getDefaultKeytabPath() string {
	return envPath("KRB5_KTNAME", "/etc/krb5.keytab")
}

// fileExists reports whether path names a readable file.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
