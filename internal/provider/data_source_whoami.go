package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
)

var _ datasource.DataSource = &WhoAmIDataSource{}

func NewWhoAmIDataSource() datasource.DataSource {
	return &WhoAmIDataSource{}
}

// WhoAmIDataSource reports the identity the provider is bound as and the
// server it administers.
type WhoAmIDataSource struct {
	Client ldapclient.Client
}

type WhoAmIDataSourceModel struct {
	ID            types.String `tfsdk:"id"`
	AuthzID       types.String `tfsdk:"authz_id"`
	Format        types.String `tfsdk:"format"`
	DN            types.String `tfsdk:"dn"`
	User          types.String `tfsdk:"user"`
	Server        types.String `tfsdk:"server"`
	VendorVersion types.String `tfsdk:"vendor_version"`
}

func (d *WhoAmIDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_whoami"
}

func (d *WhoAmIDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	computed := func(description string) schema.StringAttribute {
		return schema.StringAttribute{MarkdownDescription: description, Computed: true}
	}

	resp.Schema = schema.Schema{
		MarkdownDescription: "Reports the authorization identity of the provider's connection (RFC 4532 \"Who Am I?\") " +
			"and the server the provider is pinned to. Replication state is per server, so this confirms " +
			"which supplier, and as which account, the other resources and data sources act on.",
		Attributes: map[string]schema.Attribute{
			"id":       computed("Same as `authz_id`."),
			"authz_id": computed("Raw authorization ID returned by the server, e.g. `dn:cn=directory manager`."),
			"format":   computed("Form of the authorization ID: `dn`, `u`, `empty` (anonymous) or `unknown`."),
			"dn":       computed("Bound DN, set when `format` is `dn`."),
			"user":     computed("User name, set when `format` is `u` (SASL binds)."),
			"server":   computed("URL of the server the provider's connections are pinned to."),
			"vendor_version": computed("The server's `vendorVersion` from the root DSE, e.g. `389-Directory/2.4.5 B2024.017.0000`. " +
				"Null when the root DSE cannot be read."),
		},
	}
}

func (d *WhoAmIDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if providerData := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics); providerData != nil {
		d.Client = providerData.Client
	}
}

func (d *WhoAmIDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirsrv_whoami", "read", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	var data WhoAmIDataSourceModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	identity, err := d.Client.WhoAmI(ctx)
	switch {
	case err != nil:
		resp.Diagnostics.AddError("Error Performing WhoAmI Operation",
			"The \"Who Am I?\" extended operation failed: "+err.Error())
		return
	case identity == nil:
		resp.Diagnostics.AddError("WhoAmI Operation Returned Nil",
			"The \"Who Am I?\" extended operation returned no result. Please report this issue to the provider developers.")
		return
	}

	data.ID = types.StringValue(identity.AuthzID)
	data.AuthzID = types.StringValue(identity.AuthzID)
	data.Format = types.StringValue(identity.Format)
	data.DN = helpers.StringOrNull(identity.DN)
	data.User = helpers.StringOrNull(identity.User)
	data.Server = helpers.StringOrNull(d.Client.Stats().HomeServer)
	data.VendorVersion = types.StringNull()

	// The root DSE is informational; an ACI hiding it must not fail the read.
	if dse, err := d.Client.RootDSE(ctx); err != nil {
		tflog.Warn(ctx, "Root DSE unavailable", map[string]any{"error": err.Error()})
	} else if dse != nil {
		data.VendorVersion = helpers.StringOrNull(dse.VendorVersion)
	}

	tflog.Debug(ctx, "Resolved bound identity", map[string]any{
		"authz_id": identity.AuthzID,
		"format":   identity.Format,
		"server":   data.Server.ValueString(),
	})

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
