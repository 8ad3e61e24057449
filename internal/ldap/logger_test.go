package ldap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPoolEvent_Levels(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithSubsystems(tflogtest.RootLogger(t.Context(), &buf), nil)

	LogPoolEvent(ctx, "server_failover", map[string]any{"to": "ldaps://ds2.example.com:636"})
	LogPoolEvent(ctx, "all_connections_failed", nil)
	LogPoolEvent(ctx, "connection_reused", nil)
	LogKerberosEvent(ctx, "ticket_acquired", map[string]any{"principal": "admin@EXAMPLE.COM"})

	entries, err := tflogtest.MultilineJSONDecode(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "warn", entries[0]["@level"])
	assert.Equal(t, "provider.pool", entries[0]["@module"])
	assert.Equal(t, "server_failover", entries[0]["event"])
	assert.Equal(t, "ldaps://ds2.example.com:636", entries[0]["to"])

	assert.Equal(t, "error", entries[1]["@level"])
	assert.Equal(t, "trace", entries[2]["@level"])

	assert.Equal(t, "info", entries[3]["@level"])
	assert.Equal(t, "provider.kerberos", entries[3]["@module"])
}

func TestLogLDAPError_RedactsAndDecodes(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithSubsystems(tflogtest.RootLogger(t.Context(), &buf), nil)

	err := ldap.NewError(ldap.LDAPResultUnwillingToPerform, errors.New("database is read-only"))
	LogLDAPError(ctx, subsystemLDAP, "modify", err, map[string]any{
		"dn":                      "cn=meTo389ds2,cn=replica,cn=dc\\=example\\,dc\\=com,cn=mapping tree,cn=config",
		"nsDS5ReplicaCredentials": "hunter2",
	})

	entries, decodeErr := tflogtest.MultilineJSONDecode(&buf)
	require.NoError(t, decodeErr)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "LDAP operation failed", entry["@message"])
	assert.Equal(t, "modify", entry["operation"])
	assert.Equal(t, redacted, entry["nsDS5ReplicaCredentials"])
	assert.EqualValues(t, ldap.LDAPResultUnwillingToPerform, entry["ldap_result_code"])
	assert.Equal(t, "database is read-only", entry["ldap_diagnostic_message"])
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithSubsystems(tflogtest.RootLogger(t.Context(), &buf), tflog.Options{})

	require.NoError(t, LogOperation(ctx, subsystemReplication, "wait_init", nil, func() error { return nil }))
	require.ErrorIs(t, LogOperation(ctx, subsystemReplication, "wait_init", nil, func() error { return ErrReplicaBusy }), ErrReplicaBusy)

	entries, err := tflogtest.MultilineJSONDecode(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "Operation completed successfully", entries[1]["@message"])
	assert.Equal(t, "Operation failed", entries[3]["@message"])
	assert.Equal(t, "error", entries[3]["@level"])
	assert.Contains(t, entries[3]["error"], "consumer replica busy")
}

func TestLogResourceOperation(t *testing.T) {
	var buf bytes.Buffer
	ctx := tflog.NewSubsystem(tflogtest.RootLogger(t.Context(), &buf), "provider")

	done := LogResourceOperation(ctx, "dirsrv_replica", "create", map[string]any{"suffix": "dc=example,dc=com"})
	done(errors.New("constraint violation"))

	entries, err := tflogtest.MultilineJSONDecode(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Starting resource operation", entries[0]["@message"])
	assert.Equal(t, "dirsrv_replica", entries[1]["resource"])
	assert.Equal(t, true, entries[1]["has_error"])
	assert.Equal(t, "dc=example,dc=com", entries[1]["suffix"])
}

func TestSanitizeFields(t *testing.T) {
	got := SanitizeFields(map[string]any{
		"bind_dn":        "cn=Directory Manager",
		"Password":       "secret123",
		"filter":         "(userPassword=secret)",
		"nsslapd-rootpw": "{PBKDF2-SHA512}abc",
		"count":          3,
	})

	assert.Equal(t, "cn=Directory Manager", got["bind_dn"])
	assert.Equal(t, redacted, got["Password"])
	assert.Equal(t, redacted, got["filter"])
	assert.Equal(t, redacted, got["nsslapd-rootpw"])
	assert.Equal(t, 3, got["count"])
}

func TestSanitizeAttributes(t *testing.T) {
	in := map[string][]string{
		"nsDS5ReplicaBindDN":      {"cn=replication manager,cn=config"},
		"nsDS5ReplicaCredentials": {"hunter2"},
	}
	got := SanitizeAttributes(in)

	assert.Equal(t, in["nsDS5ReplicaBindDN"], got["nsDS5ReplicaBindDN"])
	assert.Equal(t, []string{redacted}, got["nsDS5ReplicaCredentials"])
	assert.Equal(t, []string{"hunter2"}, in["nsDS5ReplicaCredentials"])
}
