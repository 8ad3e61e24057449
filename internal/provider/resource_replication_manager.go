package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringdefault"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

var _ resource.Resource = &ReplicationManagerResource{}
var _ resource.ResourceWithImportState = &ReplicationManagerResource{}

func NewReplicationManagerResource() resource.Resource {
	return &ReplicationManagerResource{}
}

// ReplicationManagerResource manages the account suppliers bind to consumers as.
type ReplicationManagerResource struct {
	bindDNs *ldapclient.BindDNManager
}

type ReplicationManagerResourceModel struct {
	ID       types.String `tfsdk:"id"`
	DN       types.String `tfsdk:"dn"`
	Password types.String `tfsdk:"password"`
	CN       types.String `tfsdk:"cn"`
	UID      types.String `tfsdk:"uid"`
}

func (r *ReplicationManagerResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_replication_manager"
}

func (r *ReplicationManagerResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages a replication manager account: the entry suppliers bind as when they push changes. " +
			"Reference its `dn` from `dirsrv_replica.bind_dns` on the consumer and `dirsrv_replication_agreement.bind_dn` on the supplier.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The DN of the account.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "DN of the account. Defaults to `" + ldapclient.DefaultReplicationManagerDN + "`. A `uid=` RDN creates an `inetOrgPerson`.",
				Optional:            true,
				Computed:            true,
				Default:             stringdefault.StaticString(ldapclient.DefaultReplicationManagerDN),
				Validators: []validator.String{
					validators.IsValidDN(),
				},
				PlanModifiers: replaceOnChange,
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "Password of the account.",
				Required:            true,
				Sensitive:           true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(8),
				},
			},
			"cn": schema.StringAttribute{
				MarkdownDescription: "The `cn` of the account.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"uid": schema.StringAttribute{
				MarkdownDescription: "The `uid` of the account, for `uid=` DNs.",
				Computed:            true,
				PlanModifiers: keepState,
			},
		},
	}
}

func (r *ReplicationManagerResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Resource", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	r.bindDNs = providerData.BindDNs
}

func (r *ReplicationManagerResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data ReplicationManagerResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_manager", "create", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	tflog.Debug(ctx, "Creating replication manager", map[string]any{"dn": dn})

	entry, err := r.bindDNs.SetupBindDN(ctx, dn, data.Password.ValueString())
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Creating Replication Manager",
			"Could not create replication manager, unexpected error: "+err.Error(),
		)
		return
	}

	// An existing account is adopted with the configured password.
	if !entry.Created {
		tflog.Info(ctx, "Adopting existing replication manager", map[string]any{"dn": entry.DN})
		if err := r.bindDNs.SetPassword(ctx, entry.DN, data.Password.ValueString()); err != nil {
			resp.Diagnostics.AddError("Error Setting Replication Manager Password", err.Error())
			return
		}
	}

	updateModelFromBindDN(&data, entry)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ReplicationManagerResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data ReplicationManagerResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_manager", "read", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	entry, err := r.bindDNs.Get(ctx, data.ID.ValueString())
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			resp.State.RemoveResource(ctx)
			return
		}
		resp.Diagnostics.AddError(
			"Error Reading Replication Manager",
			fmt.Sprintf("Could not read %s: %s", data.ID.ValueString(), err.Error()),
		)
		return
	}

	updateModelFromBindDN(&data, entry)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ReplicationManagerResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var data, state ReplicationManagerResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_manager", "update", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if !data.Password.Equal(state.Password) {
		tflog.Debug(ctx, "Rotating replication manager password", map[string]any{"dn": state.ID.ValueString()})
		if err := r.bindDNs.SetPassword(ctx, state.ID.ValueString(), data.Password.ValueString()); err != nil {
			resp.Diagnostics.AddError(
				"Error Updating Replication Manager",
				"Could not set password, unexpected error: "+err.Error(),
			)
			return
		}
	}

	data.ID = state.ID
	data.CN = state.CN
	data.UID = state.UID
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ReplicationManagerResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data ReplicationManagerResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_manager", "delete", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if err := r.bindDNs.Delete(ctx, data.ID.ValueString()); err != nil && !ldapclient.IsNotFoundError(err) {
		resp.Diagnostics.AddError(
			"Error Deleting Replication Manager",
			"Could not delete replication manager, unexpected error: "+err.Error(),
		)
	}
}

// ImportState accepts the account DN. The password cannot be read back and
// must be set in configuration before the next apply.
func (r *ReplicationManagerResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	dn := strings.TrimSpace(req.ID)

	entry, err := r.bindDNs.Get(ctx, dn)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Importing Replication Manager",
			fmt.Sprintf("Could not import %s: %s", dn, err.Error()),
		)
		return
	}

	data := ReplicationManagerResourceModel{Password: types.StringNull()}
	updateModelFromBindDN(&data, entry)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func updateModelFromBindDN(model *ReplicationManagerResourceModel, entry *ldapclient.BindDNEntry) {
	model.ID = types.StringValue(entry.DN)
	if model.DN.IsNull() || model.DN.IsUnknown() || !ldapclient.EqualDN(model.DN.ValueString(), entry.DN) {
		model.DN = types.StringValue(entry.DN)
	}
	model.CN = helpers.StringOrNull(entry.CN)
	model.UID = helpers.StringOrNull(entry.UID)
}
