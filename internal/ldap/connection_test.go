package ldap

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, 5*time.Minute, config.MaxIdleTime)
	assert.Equal(t, 500*time.Millisecond, config.InitialBackoff)
	assert.InDelta(t, 2.0, config.BackoffFactor, 0)
	assert.True(t, config.UseTLS)
	assert.True(t, config.KerberosDNSLookupKDC)
	assert.False(t, config.KerberosDNSLookupRealm)

	require.NotNil(t, config.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), config.TLSConfig.MinVersion)
	assert.False(t, config.TLSConfig.InsecureSkipVerify)
	assert.Equal(t, AuthMethodAnonymous, config.GetAuthMethod())
}

func TestGetAuthMethod(t *testing.T) {
	const (
		realm  = "EXAMPLE.COM"
		bindDN = "cn=replication manager,cn=config"
	)

	for name, tc := range map[string]struct {
		config ConnectionConfig
		want   AuthMethod
	}{
		"directory manager":         {ConnectionConfig{BindDN: DNDirectoryManager, Password: "secret"}, AuthMethodSimpleBind},
		"keytab":                    {ConnectionConfig{KerberosRealm: realm, KerberosKeytab: "/etc/dirsrv/ds.keytab"}, AuthMethodKerberos},
		"realm beats password":      {ConnectionConfig{BindDN: bindDN, Password: "secret", KerberosRealm: realm}, AuthMethodKerberos},
		"password beats client tls": {ConnectionConfig{BindDN: bindDN, Password: "secret", TLSClientCertFile: "c.pem", TLSClientKeyFile: "k.pem"}, AuthMethodSimpleBind},
		"client certificate":        {ConnectionConfig{TLSClientCertFile: "c.pem", TLSClientKeyFile: "k.pem"}, AuthMethodExternal},
		"certificate without key":   {ConnectionConfig{TLSClientCertFile: "c.pem"}, AuthMethodAnonymous},
		"ldapi autobind":            {ConnectionConfig{LDAPURLs: []string{"ldapi://%2fvar%2frun%2fslapd-ds1.socket"}, UseExternalAuth: true}, AuthMethodExternal},
		"unauthenticated bind":      {ConnectionConfig{BindDN: bindDN}, AuthMethodSimpleBind},
		"nothing":                   {ConnectionConfig{}, AuthMethodAnonymous},
	} {
		t.Run(name, func(t *testing.T) {
			got := tc.config.GetAuthMethod()
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got != AuthMethodAnonymous, tc.config.HasAuthentication())
		})
	}
}

func TestAuthMethodNames(t *testing.T) {
	var names []string
	for _, m := range []AuthMethod{AuthMethodSimpleBind, AuthMethodKerberos, AuthMethodExternal, AuthMethodAnonymous, AuthMethod(-1)} {
		names = append(names, m.String())
	}
	assert.Equal(t, []string{"simple", "kerberos", "external", "anonymous", "unknown"}, names)
}
