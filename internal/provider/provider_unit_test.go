package provider_test

import (
	"strings"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-go/tfprotov6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	this "github.com/isometry/terraform-provider-dirsrv/internal/provider"
)

func protoV6ProviderFactories() map[string]func() (tfprotov6.ProviderServer, error) {
	return map[string]func() (tfprotov6.ProviderServer, error){
		"dirsrv": providerserver.NewProtocol6WithError(this.New("test")()),
	}
}

// TestProviderMetadata tests the provider metadata.
func TestProviderMetadata(t *testing.T) {
	p := this.New("test")()

	resp := &provider.MetadataResponse{}
	p.Metadata(t.Context(), provider.MetadataRequest{}, resp)

	assert.Equal(t, "dirsrv", resp.TypeName)
	assert.Equal(t, "test", resp.Version)
}

// TestProviderSchema tests the provider schema.
func TestProviderSchema(t *testing.T) {
	p := this.New("test")()

	resp := &provider.SchemaResponse{}
	p.Schema(t.Context(), provider.SchemaRequest{}, resp)
	require.False(t, resp.Diagnostics.HasError(), "schema diagnostics: %v", resp.Diagnostics)

	expected := []string{
		"domain", "ldap_url",
		"bind_dn", "bind_password", "use_external_auth",
		"kerberos_principal", "kerberos_realm", "kerberos_keytab", "kerberos_config", "kerberos_ccache", "kerberos_spn",
		"use_tls", "skip_tls_verify", "tls_ca_cert_file", "tls_ca_cert",
		"tls_client_cert_file", "tls_client_key_file",
		"max_connections", "max_idle_time", "connect_timeout", "operation_timeout",
		"max_retries", "initial_backoff", "max_backoff",
		"warm_cache",
	}
	for _, attr := range expected {
		assert.Contains(t, resp.Schema.Attributes, attr)
	}

	assert.True(t, resp.Schema.Attributes["bind_password"].IsSensitive())
}

// TestProviderSchemaDocumentsEnvironment checks every setting names its DIRSRV_* variable.
func TestProviderSchemaDocumentsEnvironment(t *testing.T) {
	p := this.New("test")()

	resp := &provider.SchemaResponse{}
	p.Schema(t.Context(), provider.SchemaRequest{}, resp)

	for name, attr := range resp.Schema.Attributes {
		envVar := "DIRSRV_" + strings.ToUpper(name)
		assert.Contains(t, attr.GetMarkdownDescription(), envVar, "attribute %s", name)
	}
}

// TestProviderResources tests the provider resources.
func TestProviderResources(t *testing.T) {
	p := this.New("test")()

	var names []string
	for _, factory := range p.Resources(t.Context()) {
		r := factory()
		require.NotNil(t, r)

		resp := &resource.MetadataResponse{}
		r.Metadata(t.Context(), resource.MetadataRequest{ProviderTypeName: "dirsrv"}, resp)
		names = append(names, resp.TypeName)

		schemaResp := &resource.SchemaResponse{}
		r.Schema(t.Context(), resource.SchemaRequest{}, schemaResp)
		assert.False(t, schemaResp.Diagnostics.HasError(), "%s schema: %v", resp.TypeName, schemaResp.Diagnostics)
	}

	assert.ElementsMatch(t, []string{
		"dirsrv_backend",
		"dirsrv_suffix",
		"dirsrv_replica",
		"dirsrv_changelog",
		"dirsrv_replication_manager",
		"dirsrv_replication_agreement",
	}, names)
}

// TestProviderDataSources tests the provider data sources.
func TestProviderDataSources(t *testing.T) {
	p := this.New("test")()

	var names []string
	for _, factory := range p.DataSources(t.Context()) {
		d := factory()
		require.NotNil(t, d)

		resp := &datasource.MetadataResponse{}
		d.Metadata(t.Context(), datasource.MetadataRequest{ProviderTypeName: "dirsrv"}, resp)
		names = append(names, resp.TypeName)

		schemaResp := &datasource.SchemaResponse{}
		d.Schema(t.Context(), datasource.SchemaRequest{}, schemaResp)
		assert.False(t, schemaResp.Diagnostics.HasError(), "%s schema: %v", resp.TypeName, schemaResp.Diagnostics)
	}

	assert.ElementsMatch(t, []string{
		"dirsrv_ruv",
		"dirsrv_replication_agreement_status",
		"dirsrv_replicas",
		"dirsrv_backend",
		"dirsrv_whoami",
	}, names)
}

// TestProviderFunctions tests the provider functions.
func TestProviderFunctions(t *testing.T) {
	p, ok := this.New("test")().(provider.ProviderWithFunctions)
	require.True(t, ok)

	var names []string
	for _, factory := range p.Functions(t.Context()) {
		resp := &function.MetadataResponse{}
		factory().Metadata(t.Context(), function.MetadataRequest{}, resp)
		names = append(names, resp.Name)
	}

	assert.ElementsMatch(t, []string{"parse_csn", "normalize_dn"}, names)
}

// TestProviderConfigValidators tests the provider config validators.
func TestProviderConfigValidators(t *testing.T) {
	p, ok := this.New("test")().(provider.ProviderWithConfigValidators)
	require.True(t, ok)

	validators := p.ConfigValidators(t.Context())
	assert.NotEmpty(t, validators)
	for _, v := range validators {
		assert.NotNil(t, v)
	}
}

// TestProviderEphemeralResources tests the provider ephemeral resources.
func TestProviderEphemeralResources(t *testing.T) {
	p, ok := this.New("test")().(provider.ProviderWithEphemeralResources)
	require.True(t, ok)

	assert.Empty(t, p.EphemeralResources(t.Context()))
}

// TestProviderServer tests provider server creation.
func TestProviderServer(t *testing.T) {
	serverFactory := providerserver.NewProtocol6WithError(this.New("test")())

	server, err := serverFactory()
	require.NoError(t, err)
	assert.NotNil(t, server)
}
