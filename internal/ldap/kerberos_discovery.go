package ldap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

var krb5ConfTemplate = template.Must(template.New("krb5.conf").Parse(`[libdefaults]
    default_realm = {{ .Realm }}
    dns_lookup_kdc = {{ .LookupKDC }}
    dns_lookup_realm = {{ .LookupRealm }}
{{- if .Generated }}
    rdns = false
    forwardable = true
{{- end }}

[realms]
    {{ .Realm }} = {
{{- with .KDC }}
        kdc = {{ . }}
{{- end }}
    }

[domain_realm]
    .{{ .Domain }} = {{ .Realm }}
    {{ .Domain }} = {{ .Realm }}
`))

type krb5ConfData struct {
	Realm       string
	Domain      string
	KDC         string
	LookupKDC   bool
	LookupRealm bool
	Generated   bool
}

func renderKrb5Conf(data krb5ConfData) string {
	var b strings.Builder
	if err := krb5ConfTemplate.Execute(&b, data); err != nil {
		panic(err)
	}
	return b.String()
}

// ensureKrb5Conf points cfg.KerberosConfig at a usable krb5.conf. Without
// one configured or installed, a config locating KDCs through DNS is
// written to a temporary file.
func ensureKrb5Conf(ctx context.Context, cfg *ConnectionConfig) error {
	switch {
	case cfg.KerberosConfig != "":
		return nil
	case fileExists(defaultKrb5Conf):
		cfg.KerberosConfig = defaultKrb5Conf
		return nil
	}

	if err := validateKerberosAutoDiscoveryConfig(ctx, cfg); err != nil {
		return err
	}
	content, err := generateRuntimeKrb5Conf(ctx, cfg)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "dirsrv-krb5-*.conf")
	if err != nil {
		return fmt.Errorf("failed to create runtime krb5.conf: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}

	cfg.KerberosConfig = f.Name()
	tflog.SubsystemDebug(ctx, subsystemKerberos, "Using generated krb5.conf", map[string]any{
		"path":  cfg.KerberosConfig,
		"realm": cfg.KerberosRealm,
	})
	return nil
}

// generateRuntimeKrb5Conf renders a krb5.conf for cfg's realm, mapping the
// connection domain (or the realm in lower case) to it.
func generateRuntimeKrb5Conf(ctx context.Context, cfg *ConnectionConfig) (string, error) {
	if cfg.KerberosRealm == "" {
		return "", errors.New("kerberos realm is required for auto-discovery")
	}

	data := krb5ConfData{
		Realm:       strings.ToUpper(cfg.KerberosRealm),
		Domain:      strings.ToLower(cmp.Or(cfg.Domain, cfg.KerberosRealm)),
		LookupKDC:   cfg.KerberosDNSLookupKDC,
		LookupRealm: cfg.KerberosDNSLookupRealm,
		Generated:   true,
	}
	tflog.SubsystemDebug(ctx, subsystemKerberos, "Generating runtime krb5.conf", map[string]any{
		"realm":            data.Realm,
		"domain":           data.Domain,
		"dns_lookup_kdc":   data.LookupKDC,
		"dns_lookup_realm": data.LookupRealm,
	})
	return renderKrb5Conf(data), nil
}

// generateExampleKrb5Conf renders the minimal krb5.conf suggested when none
// is found.
func generateExampleKrb5Conf(cfg *ConnectionConfig) string {
	realm := "EXAMPLE.COM"
	if cfg != nil && cfg.KerberosRealm != "" {
		realm = strings.ToUpper(cfg.KerberosRealm)
	}
	domain := strings.ToLower(realm)
	return renderKrb5Conf(krb5ConfData{Realm: realm, Domain: domain, KDC: "kdc." + domain + ":88", LookupKDC: true})
}

// validateKerberosAutoDiscoveryConfig derives the realm from the domain when
// unset and checks that some credential is available.
func validateKerberosAutoDiscoveryConfig(ctx context.Context, cfg *ConnectionConfig) error {
	switch {
	case cfg == nil:
		return errors.New("configuration cannot be nil")
	case cfg.KerberosRealm == "" && cfg.Domain == "":
		return errors.New("either kerberos_realm or domain must be specified for auto-discovery")
	case cfg.KerberosRealm == "":
		cfg.KerberosRealm = strings.ToUpper(cfg.Domain)
		tflog.SubsystemDebug(ctx, subsystemKerberos, "Derived Kerberos realm from domain", map[string]any{
			"domain": cfg.Domain,
			"realm":  cfg.KerberosRealm,
		})
	}

	if ccache, keytab := hasCredentials(cfg); !ccache && !keytab && cfg.Password == "" {
		return errors.New("no suitable Kerberos credentials found for auto-discovery: provide kerberos_ccache, kerberos_keytab or bind_password")
	}
	return nil
}
