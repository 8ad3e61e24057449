package ldap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRuntimeKrb5Conf(t *testing.T) {
	tests := []struct {
		name     string
		config   *ConnectionConfig
		contains []string
		wantErr  string
	}{
		{
			name: "dns lookups enabled",
			config: &ConnectionConfig{
				Domain:                 "example.com",
				KerberosRealm:          "EXAMPLE.COM",
				KerberosDNSLookupKDC:   true,
				KerberosDNSLookupRealm: true,
			},
			contains: []string{
				"default_realm = EXAMPLE.COM",
				"dns_lookup_kdc = true",
				"dns_lookup_realm = true",
				"EXAMPLE.COM = {",
				".example.com = EXAMPLE.COM",
			},
		},
		{
			name:     "dns lookups disabled",
			config:   &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"},
			contains: []string{"dns_lookup_kdc = false", "dns_lookup_realm = false"},
		},
		{
			name:     "case normalization",
			config:   &ConnectionConfig{Domain: "Corp.Example.Com", KerberosRealm: "example.com"},
			contains: []string{"default_realm = EXAMPLE.COM", ".corp.example.com = EXAMPLE.COM"},
		},
		{
			name:     "domain defaults to realm",
			config:   &ConnectionConfig{KerberosRealm: "LAB.EXAMPLE.NET"},
			contains: []string{"lab.example.net = LAB.EXAMPLE.NET"},
		},
		{
			name:    "missing realm",
			config:  &ConnectionConfig{Domain: "example.com"},
			wantErr: "kerberos realm is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := generateRuntimeKrb5Conf(t.Context(), tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, conf, want)
			}
		})
	}
}

func TestGeneratedConfigStructure(t *testing.T) {
	conf, err := generateRuntimeKrb5Conf(t.Context(), &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"})
	require.NoError(t, err)

	libdefaults := strings.Index(conf, "[libdefaults]")
	realms := strings.Index(conf, "[realms]")
	domainRealm := strings.Index(conf, "[domain_realm]")

	require.GreaterOrEqual(t, libdefaults, 0)
	assert.Less(t, libdefaults, realms)
	assert.Less(t, realms, domainRealm)
	assert.Contains(t, conf, "rdns = false")
}

func TestValidateKerberosAutoDiscoveryConfig(t *testing.T) {
	dir := isolateKerberosEnv(t)
	keytab := touch(t, dir, "dirsrv.keytab")

	tests := []struct {
		name      string
		config    *ConnectionConfig
		wantRealm string
		wantErr   string
	}{
		{
			name:    "nil config",
			wantErr: "configuration cannot be nil",
		},
		{
			name:      "explicit realm with password",
			config:    &ConnectionConfig{KerberosRealm: "EXAMPLE.COM", Password: "secret"},
			wantRealm: "EXAMPLE.COM",
		},
		{
			name:      "realm derived from domain",
			config:    &ConnectionConfig{Domain: "example.org", KerberosKeytab: keytab},
			wantRealm: "EXAMPLE.ORG",
		},
		{
			name:    "neither realm nor domain",
			config:  &ConnectionConfig{Password: "secret"},
			wantErr: "either kerberos_realm or domain must be specified",
		},
		{
			name:    "no credentials",
			config:  &ConnectionConfig{KerberosRealm: "EXAMPLE.COM"},
			wantErr: "no suitable Kerberos credentials found for auto-discovery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateKerberosAutoDiscoveryConfig(t.Context(), tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRealm, tt.config.KerberosRealm)
		})
	}
}

func TestEnsureKrb5Conf(t *testing.T) {
	t.Run("explicit path untouched", func(t *testing.T) {
		cfg := &ConnectionConfig{KerberosConfig: "/etc/custom/krb5.conf"}
		require.NoError(t, ensureKrb5Conf(t.Context(), cfg))
		assert.Equal(t, "/etc/custom/krb5.conf", cfg.KerberosConfig)
	})

	t.Run("generated when system file missing", func(t *testing.T) {
		if fileExists(defaultKrb5Conf) {
			t.Skip("system krb5.conf present")
		}
		isolateKerberosEnv(t)

		cfg := &ConnectionConfig{Domain: "example.com", Password: "secret", KerberosDNSLookupKDC: true}
		require.NoError(t, ensureKrb5Conf(t.Context(), cfg))
		t.Cleanup(func() { _ = os.Remove(cfg.KerberosConfig) })

		assert.Equal(t, "EXAMPLE.COM", cfg.KerberosRealm)
		assert.True(t, strings.HasPrefix(filepath.Base(cfg.KerberosConfig), "dirsrv-krb5-"))

		content, err := os.ReadFile(cfg.KerberosConfig)
		require.NoError(t, err)
		assert.Contains(t, string(content), "dns_lookup_kdc = true")
	})
}
