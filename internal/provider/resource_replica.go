package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/setvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/booldefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/boolplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/int64planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/setplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-dirsrv/internal/provider/types"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ resource.Resource = &ReplicaResource{}
var _ resource.ResourceWithImportState = &ReplicaResource{}

func NewReplicaResource() resource.Resource {
	return &ReplicaResource{}
}

// ReplicaResource enables replication on an existing suffix.
type ReplicaResource struct {
	replicas *ldapclient.ReplicaManager
}

// ReplicaResourceModel describes the resource data model.
type ReplicaResourceModel struct {
	ID                     types.String                 `tfsdk:"id"`
	Suffix                 customtypes.DNStringValue    `tfsdk:"suffix"`
	Role                   types.String                 `tfsdk:"role"`
	ReplicaID              types.Int64                  `tfsdk:"replica_id"`
	BindDNs                customtypes.DNStringSetValue `tfsdk:"bind_dns"`
	Referrals              types.Set                    `tfsdk:"referrals"`
	TombstonePurgeInterval types.String                 `tfsdk:"tombstone_purge_interval"`
	PurgeDelay             types.String                 `tfsdk:"purge_delay"`
	LegacyConsumer         types.Bool                   `tfsdk:"legacy_consumer"`
	// Computed attributes
	DN          customtypes.DNStringValue `tfsdk:"dn"`
	ReplicaType types.Int64               `tfsdk:"replica_type"`
	Flags       types.Int64               `tfsdk:"flags"`
}

func (r *ReplicaResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_replica"
}

func (r *ReplicaResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Enables replication of a suffix by creating its `cn=replica` entry. " +
			"Suppliers (`master`) need a unique `replica_id`; hubs and consumers (`leaf`) always use 65535. " +
			"Suppliers and hubs also need a changelog (see `dirsrv_changelog`).",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the replica entry.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"suffix": schema.StringAttribute{
				MarkdownDescription: "The suffix to replicate. Its mapping tree entry and backend must exist.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
				PlanModifiers: replaceOnChange,
			},
			"role": schema.StringAttribute{
				MarkdownDescription: "Topology role: `master` (or `supplier`), `hub`, or `leaf` (or `consumer`). Case-insensitive.",
				Required:            true,
				Validators: []validator.String{
					validators.ReplicaRole(),
				},
				PlanModifiers: replaceOnChange,
			},
			"replica_id": schema.Int64Attribute{
				MarkdownDescription: fmt.Sprintf("Replica ID, %d to %d. Required for suppliers; hubs and consumers use %d.",
					ldapclient.MinReplicaID, ldapclient.MaxMasterReplicaID, ldapclient.ReadOnlyReplicaID),
				Optional: true,
				Computed: true,
				Validators: []validator.Int64{
					int64validator.Between(ldapclient.MinReplicaID, ldapclient.ReadOnlyReplicaID),
				},
				PlanModifiers: []planmodifier.Int64{
					int64planmodifier.UseStateForUnknown(),
					int64planmodifier.RequiresReplace(),
				},
			},
			"bind_dns": schema.SetAttribute{
				MarkdownDescription: "DNs allowed to send replication updates to this replica. Defaults to `[\"" + ldapclient.DefaultReplicationManagerDN + "\"]`.",
				Optional:            true,
				Computed:            true,
				ElementType:         types.StringType,
				CustomType:          customtypes.NewDNStringSetType(),
				Validators: []validator.Set{
					setvalidator.SizeAtLeast(1),
				},
				PlanModifiers: []planmodifier.Set{
					setplanmodifier.UseStateForUnknown(),
				},
			},
			"referrals": schema.SetAttribute{
				MarkdownDescription: "LDAP URLs returned to clients that try to write to a read-only replica.",
				Optional:            true,
				ElementType:         types.StringType,
				Validators: []validator.Set{
					setvalidator.SizeAtLeast(1),
					setvalidator.ValueStringsAre(stringvalidator.RegexMatches(ldapURLRegex, "must be an ldap:// or ldaps:// URL")),
				},
			},
			"tombstone_purge_interval": schema.StringAttribute{
				MarkdownDescription: "Seconds between tombstone purge runs (`nsds5ReplicaTombstonePurgeInterval`).",
				Optional:            true,
				Validators: []validator.String{
					stringvalidator.RegexMatches(digitsRegex, "must be a number of seconds"),
				},
			},
			"purge_delay": schema.StringAttribute{
				MarkdownDescription: "Seconds state information and tombstones are kept (`nsds5ReplicaPurgeDelay`).",
				Optional:            true,
				Validators: []validator.String{
					stringvalidator.RegexMatches(digitsRegex, "must be a number of seconds"),
				},
			},
			"legacy_consumer": schema.BoolAttribute{
				MarkdownDescription: "Accept updates from legacy (4.x) suppliers. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
				PlanModifiers: []planmodifier.Bool{
					boolplanmodifier.RequiresReplace(),
				},
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the replica entry.",
				Computed:            true,
				CustomType:          customtypes.DNStringType{},
				PlanModifiers: keepState,
			},
			"replica_type": schema.Int64Attribute{
				MarkdownDescription: "`nsds5ReplicaType`: 3 for suppliers, 2 for hubs and consumers.",
				Computed:            true,
				PlanModifiers: []planmodifier.Int64{
					int64planmodifier.UseStateForUnknown(),
				},
			},
			"flags": schema.Int64Attribute{
				MarkdownDescription: "`nsds5Flags`: 1 when the replica keeps a changelog.",
				Computed:            true,
				PlanModifiers: []planmodifier.Int64{
					int64planmodifier.UseStateForUnknown(),
				},
			},
		},
	}
}

func (r *ReplicaResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Resource", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	r.replicas = providerData.Replicas
}

func (r *ReplicaResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data ReplicaResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replica", "create", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	role, ok := ldapclient.ParseReplicaRole(data.Role.ValueString())
	if !ok {
		resp.Diagnostics.AddAttributeError(path.Root("role"), "Invalid Replica Role",
			fmt.Sprintf("Unknown replica role %q.", data.Role.ValueString()))
		return
	}

	createReq := &ldapclient.ReplicaRequest{
		Suffix:                 data.Suffix.ValueString(),
		Role:                   role,
		ReplicaID:              int(helpers.Int64ValueOrDefault(data.ReplicaID, 0)),
		BindDNs:                helpers.StringList(ctx, data.BindDNs, &resp.Diagnostics),
		Referrals:              helpers.StringList(ctx, data.Referrals, &resp.Diagnostics),
		TombstonePurgeInterval: helpers.StringValueOrDefault(data.TombstonePurgeInterval, ""),
		PurgeDelay:             helpers.StringValueOrDefault(data.PurgeDelay, ""),
		Legacy:                 data.LegacyConsumer.ValueBool(),
	}
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Creating replica", map[string]any{
		"suffix": createReq.Suffix,
		"role":   role.String(),
		"rid":    createReq.ReplicaID,
	})

	replica, err := r.replicas.Add(ctx, createReq)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Creating Replica",
			"Could not enable replication, unexpected error: "+err.Error(),
		)
		return
	}
	if replica.Role != role {
		resp.Diagnostics.AddError(
			"Replica Already Exists",
			fmt.Sprintf("Suffix %s already has a %s replica (%s); import it or remove it first.", replica.Suffix, replica.Role, replica.DN),
		)
		return
	}

	tflog.Debug(ctx, "Created replica", map[string]any{"dn": replica.DN})

	r.updateModelFromReplica(ctx, &data, replica, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ReplicaResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data ReplicaResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replica", "read", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Reading replica", map[string]any{"suffix": data.Suffix.ValueString()})

	replica, err := r.replicas.Get(ctx, data.Suffix.ValueString())
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			resp.State.RemoveResource(ctx)
			return
		}
		resp.Diagnostics.AddError(
			"Error Reading Replica",
			fmt.Sprintf("Could not read replica of %s: %s", data.Suffix.ValueString(), err.Error()),
		)
		return
	}

	r.updateModelFromReplica(ctx, &data, replica, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ReplicaResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var data, state ReplicaResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replica", "update", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	upd := &ldapclient.ReplicaUpdate{}
	if !data.BindDNs.IsUnknown() && !data.BindDNs.Equal(state.BindDNs) {
		upd.BindDNs = helpers.StringList(ctx, data.BindDNs, &resp.Diagnostics)
	}
	if !data.Referrals.Equal(state.Referrals) {
		upd.Referrals = emptyIfNil(helpers.StringList(ctx, data.Referrals, &resp.Diagnostics))
	}
	if !data.TombstonePurgeInterval.Equal(state.TombstonePurgeInterval) {
		v := data.TombstonePurgeInterval.ValueString()
		upd.TombstonePurgeInterval = &v
	}
	if !data.PurgeDelay.Equal(state.PurgeDelay) {
		v := data.PurgeDelay.ValueString()
		upd.PurgeDelay = &v
	}
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Updating replica", map[string]any{"suffix": state.Suffix.ValueString()})

	replica, err := r.replicas.Update(ctx, state.Suffix.ValueString(), upd)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Updating Replica",
			"Could not update replica, unexpected error: "+err.Error(),
		)
		return
	}

	r.updateModelFromReplica(ctx, &data, replica, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ReplicaResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data ReplicaResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replica", "delete", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Deleting replica", map[string]any{"suffix": data.Suffix.ValueString()})

	if err := r.replicas.Delete(ctx, data.Suffix.ValueString()); err != nil {
		if ldapclient.IsNotFoundError(err) {
			return
		}
		resp.Diagnostics.AddError(
			"Error Deleting Replica",
			"Could not delete replica, unexpected error: "+err.Error(),
		)
	}
}

// ImportState accepts the replicated suffix, e.g. dc=example,dc=com.
func (r *ReplicaResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	suffix := strings.TrimSpace(req.ID)

	tflog.Debug(ctx, "Importing replica", map[string]any{"import_id": suffix})

	replica, err := r.replicas.Get(ctx, suffix)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Importing Replica",
			fmt.Sprintf("Could not import the replica of %s: %s", suffix, err.Error()),
		)
		return
	}

	data := ReplicaResourceModel{
		Suffix:    customtypes.DNString(suffix),
		Referrals: types.SetNull(types.StringType),
	}
	r.updateModelFromReplica(ctx, &data, replica, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// updateModelFromReplica copies server state into the model, keeping the
// configured spelling of the suffix and role where they are equivalent.
func (r *ReplicaResource) updateModelFromReplica(ctx context.Context, model *ReplicaResourceModel, replica *ldapclient.Replica, diags *diag.Diagnostics) {
	model.ID = types.StringValue(replica.DN)
	model.DN = customtypes.DNString(replica.DN)
	model.ReplicaID = types.Int64Value(int64(replica.ID))
	model.ReplicaType = types.Int64Value(int64(replica.Type))
	model.Flags = types.Int64Value(int64(replica.Flags))
	model.LegacyConsumer = types.BoolValue(replica.LegacyConsumer)
	model.TombstonePurgeInterval = helpers.StringOrNull(replica.TombstonePurgeInterval)
	model.PurgeDelay = helpers.StringOrNull(replica.PurgeDelay)
	model.Referrals = helpers.SetOrNull(replica.Referrals)

	model.Suffix = model.Suffix.Reconcile(replica.Suffix)

	if role, ok := ldapclient.ParseReplicaRole(model.Role.ValueString()); !ok || role != replica.Role {
		model.Role = types.StringValue(replica.Role.String())
	}

	bindDNs, d := customtypes.DNStringSet(ctx, replica.BindDNs)
	diags.Append(d...)
	model.BindDNs = bindDNs
}
