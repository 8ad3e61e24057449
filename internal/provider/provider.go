package provider

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

var (
	_ provider.Provider                       = &DirSrvProvider{}
	_ provider.ProviderWithFunctions          = &DirSrvProvider{}
	_ provider.ProviderWithEphemeralResources = &DirSrvProvider{}
	_ provider.ProviderWithConfigValidators   = &DirSrvProvider{}
)

// envPrefix prefixes the environment variable backing each provider setting.
const envPrefix = "DIRSRV_"

// DirSrvProvider administers 389 Directory Server instances.
type DirSrvProvider struct {
	// version is "dev" for local builds and "test" under acceptance tests.
	version string

	// replicaCache outlives a single Configure so repeated configuration in
	// one plugin process reuses warmed entries.
	replicaCache *ldapclient.ReplicaCache
}

// DirSrvProviderModel describes the provider data model. Every attribute
// may instead be set through DIRSRV_<ATTRIBUTE>.
type DirSrvProviderModel struct {
	Domain  types.String `tfsdk:"domain"`
	LdapURL types.String `tfsdk:"ldap_url"`

	BindDN          types.String `tfsdk:"bind_dn"`
	BindPassword    types.String `tfsdk:"bind_password"`
	UseExternalAuth types.Bool   `tfsdk:"use_external_auth"`

	KerberosPrincipal types.String `tfsdk:"kerberos_principal"`
	KerberosRealm     types.String `tfsdk:"kerberos_realm"`
	KerberosKeytab    types.String `tfsdk:"kerberos_keytab"`
	KerberosConfig    types.String `tfsdk:"kerberos_config"`
	KerberosCCache    types.String `tfsdk:"kerberos_ccache"`
	KerberosSPN       types.String `tfsdk:"kerberos_spn"`

	UseTLS            types.Bool   `tfsdk:"use_tls"`
	SkipTLSVerify     types.Bool   `tfsdk:"skip_tls_verify"`
	TLSCACertFile     types.String `tfsdk:"tls_ca_cert_file"`
	TLSCACert         types.String `tfsdk:"tls_ca_cert"`
	TLSClientCertFile types.String `tfsdk:"tls_client_cert_file"`
	TLSClientKeyFile  types.String `tfsdk:"tls_client_key_file"`

	MaxConnections   types.Int64 `tfsdk:"max_connections"`
	MaxIdleTime      types.Int64 `tfsdk:"max_idle_time"`
	ConnectTimeout   types.Int64 `tfsdk:"connect_timeout"`
	OperationTimeout types.Int64 `tfsdk:"operation_timeout"`

	MaxRetries     types.Int64 `tfsdk:"max_retries"`
	InitialBackoff types.Int64 `tfsdk:"initial_backoff"`
	MaxBackoff     types.Int64 `tfsdk:"max_backoff"`

	WarmCache types.Bool `tfsdk:"warm_cache"`
}

func (p *DirSrvProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "dirsrv"
	resp.Version = p.version
}

// envVar names the environment variable backing attribute.
func envVar(attribute string) string {
	return envPrefix + strings.ToUpper(attribute)
}

// settingDoc appends the environment variable note to an attribute description.
func settingDoc(attribute, description string) string {
	return description + " Can be set via the `" + envVar(attribute) + "` environment variable."
}

func stringSetting(name, description string, sensitive bool, checks ...validator.String) schema.StringAttribute {
	return schema.StringAttribute{
		MarkdownDescription: settingDoc(name, description),
		Optional:            true,
		Sensitive:           sensitive,
		Validators:          checks,
	}
}

func boolSetting(name, description string) schema.BoolAttribute {
	return schema.BoolAttribute{MarkdownDescription: settingDoc(name, description), Optional: true}
}

func int64Setting(name, description string) schema.Int64Attribute {
	return schema.Int64Attribute{MarkdownDescription: settingDoc(name, description), Optional: true}
}

func (p *DirSrvProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	nonEmpty := stringvalidator.LengthAtLeast(1)

	resp.Schema = schema.Schema{
		MarkdownDescription: "The 389 Directory Server provider manages backends, suffixes, replicas and replication agreements " +
			"through the server's `cn=config` tree. It supports SRV-based server discovery, `ldapi://` autobind, " +
			"connection pooling, and simple, Kerberos and SASL EXTERNAL authentication.",
		Attributes: map[string]schema.Attribute{
			"domain": stringSetting("domain",
				"DNS domain used for SRV-based server discovery (e.g., `example.com`). Mutually exclusive with `ldap_url`.",
				false, nonEmpty),
			"ldap_url": stringSetting("ldap_url",
				"Server URL: `ldap://`, `ldaps://` or `ldapi://` (e.g., `ldaps://ds1.example.com:636`). Mutually exclusive with `domain`.",
				false, nonEmpty),

			"bind_dn": stringSetting("bind_dn",
				"DN used for simple bind, typically `cn=Directory Manager`.",
				false, validators.IsValidDN()),
			"bind_password": stringSetting("bind_password",
				"Password for simple bind, or for Kerberos password authentication.", true),
			"use_external_auth": boolSetting("use_external_auth",
				"Authenticate with SASL EXTERNAL: `ldapi://` autobind as the process owner, or a TLS client certificate."),

			"kerberos_principal": stringSetting("kerberos_principal",
				"Kerberos principal for GSSAPI authentication, optionally as `principal@REALM`.", false),
			"kerberos_realm": stringSetting("kerberos_realm",
				"Kerberos realm for GSSAPI authentication (e.g., `EXAMPLE.COM`).", false),
			"kerberos_keytab": stringSetting("kerberos_keytab",
				"Path to a Kerberos keytab file.", false),
			"kerberos_config": stringSetting("kerberos_config",
				"Path to the Kerberos configuration file. A DNS-discovery configuration is generated when unset and `/etc/krb5.conf` is missing.", false),
			"kerberos_ccache": stringSetting("kerberos_ccache",
				"Path to a Kerberos credential cache.", false),
			"kerberos_spn": stringSetting("kerberos_spn",
				"Service principal name to request, `ldap/<host>` by default.", false),

			"use_tls": boolSetting("use_tls",
				"Upgrade `ldap://` connections with StartTLS. Defaults to `true`."),
			"skip_tls_verify": boolSetting("skip_tls_verify",
				"Skip TLS certificate verification. Not recommended for production. Defaults to `false`."),
			"tls_ca_cert_file": stringSetting("tls_ca_cert_file",
				"Path to a CA certificate file, such as the instance's `ca.crt`, added to the system roots.", false),
			"tls_ca_cert": stringSetting("tls_ca_cert",
				"PEM-encoded CA certificate added to the system roots.", true),
			"tls_client_cert_file": stringSetting("tls_client_cert_file",
				"Path to a client certificate for mutual TLS.", false),
			"tls_client_key_file": stringSetting("tls_client_key_file",
				"Path to the client private key for mutual TLS.", true),

			"max_connections": int64Setting("max_connections",
				"Maximum number of pooled connections. Defaults to `10`."),
			"max_idle_time": int64Setting("max_idle_time",
				"Seconds a pooled connection may stay idle. Defaults to `300`."),
			"connect_timeout": int64Setting("connect_timeout",
				"Connection timeout in seconds. Defaults to `30`."),
			"operation_timeout": int64Setting("operation_timeout",
				"Timeout in seconds for individual LDAP operations. Defaults to `30`."),

			"max_retries": int64Setting("max_retries",
				"Maximum retry attempts for transient LDAP failures. Defaults to `3`."),
			"initial_backoff": int64Setting("initial_backoff",
				"Initial retry backoff in milliseconds. Defaults to `500`."),
			"max_backoff": int64Setting("max_backoff",
				"Maximum retry backoff in seconds. Defaults to `30`."),

			"warm_cache": boolSetting("warm_cache",
				"Load every replica configuration entry into the replica cache when the provider starts. Defaults to `false`."),
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *DirSrvProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		providervalidator.Conflicting(path.MatchRoot("domain"), path.MatchRoot("ldap_url")),
		providervalidator.Conflicting(path.MatchRoot("tls_ca_cert_file"), path.MatchRoot("tls_ca_cert")),
	}
}

func (p *DirSrvProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data DirSrvProviderModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)
	tflog.Info(ctx, "Configuring 389 Directory Server provider", map[string]any{"version": p.version})

	config := buildLDAPConfig(&data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	client := openClient(ctx, config, &resp.Diagnostics)
	if client == nil {
		return
	}

	if p.replicaCache == nil {
		p.replicaCache = ldapclient.NewReplicaCache()
	}
	providerData := ldapclient.NewProviderData(client, p.replicaCache)
	if timeout := int64Value(data.OperationTimeout, "operation_timeout", 30); timeout > 0 {
		providerData.SetTimeout(time.Duration(timeout) * time.Second)
	}

	if boolValue(data.WarmCache, "warm_cache", false) {
		warmCache(ctx, providerData, &resp.Diagnostics)
	}

	tflog.Info(ctx, "389 Directory Server provider configured", providerData.GetCombinedStats())

	resp.DataSourceData = providerData
	resp.ResourceData = providerData
}

// openClient creates the client and proves it can reach and bind to a
// server. It returns nil after adding an error diagnostic.
func openClient(ctx context.Context, config *ldapclient.ConnectionConfig, diags *diag.Diagnostics) ldapclient.Client {
	step := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		fields := map[string]any{"step": name, "duration_ms": time.Since(start).Milliseconds()}
		if err != nil {
			fields["error"] = err.Error()
			tflog.Error(ctx, "Provider connection step failed", fields)
		} else {
			tflog.Debug(ctx, "Provider connection step completed", fields)
		}
		return err
	}

	var client ldapclient.Client
	if err := step("create_client", func() (err error) {
		client, err = ldapclient.NewClient(ctx, config)
		return err
	}); err != nil {
		diags.AddError("Unable to Create LDAP Client",
			"The LDAP client could not be created from the provider configuration.\n\nLDAP Client Error: "+err.Error())
		return nil
	}

	if err := step("connect", func() error { return client.Connect(ctx) }); err != nil {
		diags.AddError("Unable to Connect to Directory Server",
			"No configured directory server accepted a connection. Check the server address and TLS settings.\n\n"+
				"Connection Error: "+err.Error())
		_ = client.Close()
		return nil
	}

	if err := step("bind", func() error { return client.BindWithConfig(ctx) }); err != nil {
		diags.AddError("Authentication Failed",
			"The directory server rejected the configured credentials.\n\nAuthentication Error: "+err.Error())
		_ = client.Close()
		return nil
	}

	return client
}

// warmCache loads replica entries, downgrading failure to a warning since
// entries are otherwise read on demand.
func warmCache(ctx context.Context, providerData *ldapclient.ProviderData, diags *diag.Diagnostics) {
	start := time.Now()
	if err := providerData.WarmCache(ctx); err != nil {
		tflog.Warn(ctx, "Replica cache warming failed", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		diags.AddWarning("Cache Warming Failed",
			"Replica entries will be read on demand.\n\nCache Warming Error: "+err.Error())
		return
	}
	tflog.Info(ctx, "Replica cache warmed", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"stats":       providerData.ReplicaCache.GetStats().String(),
	})
}

// configureLogging adds the fields every provider log line carries.
func (p *DirSrvProvider) configureLogging(ctx context.Context) context.Context {
	ctx = tflog.SetField(ctx, "provider", "dirsrv")
	ctx = tflog.SetField(ctx, "provider_version", p.version)
	return ldapclient.WithSubsystems(ctx, nil)
}

// buildLDAPConfig resolves each setting from provider configuration, then
// its DIRSRV_* variable, then the default.
func buildLDAPConfig(data *DirSrvProviderModel, diags *diag.Diagnostics) *ldapclient.ConnectionConfig {
	config := ldapclient.DefaultConfig()

	domain := stringValue(data.Domain, "domain")
	ldapURL := stringValue(data.LdapURL, "ldap_url")
	switch {
	case domain != "" && ldapURL != "":
		diags.AddError("Conflicting Connection Configuration",
			"Only one of 'domain' ("+envVar("domain")+") and 'ldap_url' ("+envVar("ldap_url")+") may be set.")
		return config
	case domain == "" && ldapURL == "":
		diags.AddError("Missing Connection Configuration",
			"Either 'domain' or 'ldap_url' must be configured, or set "+envVar("domain")+" or "+envVar("ldap_url")+".")
		return config
	case ldapURL != "":
		config.LDAPURLs = []string{ldapURL}
	default:
		config.Domain = domain
	}

	config.BindDN = stringValue(data.BindDN, "bind_dn")
	config.Password = stringValue(data.BindPassword, "bind_password")
	config.UseExternalAuth = boolValue(data.UseExternalAuth, "use_external_auth", false)
	config.KerberosPrincipal = stringValue(data.KerberosPrincipal, "kerberos_principal")
	config.KerberosRealm = stringValue(data.KerberosRealm, "kerberos_realm")
	config.KerberosKeytab = stringValue(data.KerberosKeytab, "kerberos_keytab")
	config.KerberosConfig = stringValue(data.KerberosConfig, "kerberos_config")
	config.KerberosCCache = stringValue(data.KerberosCCache, "kerberos_ccache")
	config.KerberosSPN = stringValue(data.KerberosSPN, "kerberos_spn")

	if config.BindDN != "" && config.Password == "" && config.KerberosRealm == "" {
		diags.AddError("Missing Bind Password",
			"'bind_dn' is set but no 'bind_password' was given. Set 'bind_password' or "+envVar("bind_password")+
				", or omit 'bind_dn' to use SASL EXTERNAL or Kerberos.")
		return config
	}

	config.UseTLS = boolValue(data.UseTLS, "use_tls", true)
	if boolValue(data.SkipTLSVerify, "skip_tls_verify", false) {
		if config.TLSConfig == nil {
			config.TLSConfig = &tls.Config{}
		}
		config.TLSConfig.InsecureSkipVerify = true
	}
	config.TLSCACertFile = stringValue(data.TLSCACertFile, "tls_ca_cert_file")
	config.TLSCACert = stringValue(data.TLSCACert, "tls_ca_cert")
	config.TLSClientCertFile = stringValue(data.TLSClientCertFile, "tls_client_cert_file")
	config.TLSClientKeyFile = stringValue(data.TLSClientKeyFile, "tls_client_key_file")

	// Non-positive values keep the defaults; zero retries is allowed.
	if n := int64Value(data.MaxConnections, "max_connections", 10); n > 0 {
		config.MaxConnections = int(n)
	}
	if n := int64Value(data.MaxRetries, "max_retries", 3); n >= 0 {
		config.MaxRetries = int(n)
	}
	setDuration(&config.MaxIdleTime, int64Value(data.MaxIdleTime, "max_idle_time", 300), time.Second)
	setDuration(&config.Timeout, int64Value(data.ConnectTimeout, "connect_timeout", 30), time.Second)
	setDuration(&config.InitialBackoff, int64Value(data.InitialBackoff, "initial_backoff", 500), time.Millisecond)
	setDuration(&config.MaxBackoff, int64Value(data.MaxBackoff, "max_backoff", 30), time.Second)

	return config
}

func setDuration(dst *time.Duration, n int64, unit time.Duration) {
	if n > 0 {
		*dst = time.Duration(n) * unit
	}
}

// stringValue returns the configured value, falling back to the
// attribute's environment variable.
func stringValue(v types.String, attribute string) string {
	if s := v.ValueString(); s != "" {
		return s
	}
	return os.Getenv(envVar(attribute))
}

// boolValue returns the configured value, then a parseable environment
// value, then def.
func boolValue(v types.Bool, attribute string, def bool) bool {
	if !v.IsNull() && !v.IsUnknown() {
		return v.ValueBool()
	}
	if parsed, err := strconv.ParseBool(os.Getenv(envVar(attribute))); err == nil {
		return parsed
	}
	return def
}

// int64Value returns the configured value, then a parseable environment
// value, then def.
func int64Value(v types.Int64, attribute string, def int64) int64 {
	if !v.IsNull() && !v.IsUnknown() {
		return v.ValueInt64()
	}
	if parsed, err := strconv.ParseInt(os.Getenv(envVar(attribute)), 10, 64); err == nil {
		return parsed
	}
	return def
}

func (p *DirSrvProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		NewBackendResource,
		NewSuffixResource,
		NewReplicaResource,
		NewChangelogResource,
		NewReplicationManagerResource,
		NewReplicationAgreementResource,
	}
}

func (p *DirSrvProvider) EphemeralResources(ctx context.Context) []func() ephemeral.EphemeralResource {
	return nil
}

func (p *DirSrvProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewRUVDataSource,
		NewAgreementStatusDataSource,
		NewReplicasDataSource,
		NewBackendDataSource,
		NewWhoAmIDataSource,
	}
}

func (p *DirSrvProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewParseCSNFunction,
		NewNormalizeDNFunction,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &DirSrvProvider{version: version}
	}
}
