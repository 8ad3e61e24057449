package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-dirsrv/internal/provider/types"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

var _ datasource.DataSource = &ReplicasDataSource{}

func NewReplicasDataSource() datasource.DataSource {
	return &ReplicasDataSource{}
}

// ReplicasDataSource lists the replicas configured on the server.
type ReplicasDataSource struct {
	replicas *ldapclient.ReplicaManager
}

type ReplicasDataSourceModel struct {
	ID       types.String              `tfsdk:"id"`
	Suffix   customtypes.DNStringValue `tfsdk:"suffix"`
	Replicas types.List                `tfsdk:"replicas"`
}

var replicaObjectType = types.ObjectType{
	AttrTypes: map[string]attr.Type{
		"dn":              types.StringType,
		"suffix":          types.StringType,
		"role":            types.StringType,
		"replica_id":      types.Int64Type,
		"replica_type":    types.Int64Type,
		"flags":           types.Int64Type,
		"bind_dns":        types.ListType{ElemType: types.StringType},
		"referrals":       types.ListType{ElemType: types.StringType},
		"legacy_consumer": types.BoolType,
	},
}

func (d *ReplicasDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_replicas"
}

func (d *ReplicasDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Lists the replicas configured on the server, optionally for a single suffix.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The normalized suffix, or `*` when listing every replica.",
				Computed:            true,
			},
			"suffix": schema.StringAttribute{
				MarkdownDescription: "Only list the replica of this suffix.",
				Optional:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
			},
			"replicas": schema.ListNestedAttribute{
				MarkdownDescription: "The replicas found.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"dn": schema.StringAttribute{
							MarkdownDescription: "DN of the replica entry.",
							Computed:            true,
						},
						"suffix": schema.StringAttribute{
							MarkdownDescription: "The replicated suffix.",
							Computed:            true,
						},
						"role": schema.StringAttribute{
							MarkdownDescription: "`master`, `hub` or `leaf`.",
							Computed:            true,
						},
						"replica_id": schema.Int64Attribute{
							MarkdownDescription: "The replica ID.",
							Computed:            true,
						},
						"replica_type": schema.Int64Attribute{
							MarkdownDescription: "`nsds5replicatype`: 3 for read-write, 2 for read-only.",
							Computed:            true,
						},
						"flags": schema.Int64Attribute{
							MarkdownDescription: "`nsds5flags`: 1 when the replica keeps a changelog.",
							Computed:            true,
						},
						"bind_dns": schema.ListAttribute{
							MarkdownDescription: "DNs allowed to send updates to the replica.",
							ElementType:         types.StringType,
							Computed:            true,
						},
						"referrals": schema.ListAttribute{
							MarkdownDescription: "Referral URLs returned for writes to a read-only replica.",
							ElementType:         types.StringType,
							Computed:            true,
						},
						"legacy_consumer": schema.BoolAttribute{
							MarkdownDescription: "Whether the replica accepts updates from legacy suppliers.",
							Computed:            true,
						},
					},
				},
			},
		},
	}
}

func (d *ReplicasDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	d.replicas = providerData.Replicas
}

func (d *ReplicasDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data ReplicasDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	suffix := helpers.StringValueOrDefault(data.Suffix.StringValue, "")
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirsrv_replicas", "read", map[string]any{"suffix": suffix})
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	replicas, err := d.replicas.List(ctx, suffix)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Listing Replicas",
			fmt.Sprintf("Could not list replicas: %s", err.Error()),
		)
		return
	}

	data.ID = types.StringValue("*")
	if suffix != "" {
		data.ID = types.StringValue(ldapclient.MustNormalizeDN(suffix))
	}
	data.Replicas = replicasToList(replicas, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Listed replicas", map[string]any{"count": len(replicas)})

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func replicasToList(replicas []*ldapclient.Replica, diags *diag.Diagnostics) types.List {
	values := make([]attr.Value, 0, len(replicas))
	for _, r := range replicas {
		obj, objDiags := types.ObjectValue(replicaObjectType.AttrTypes, map[string]attr.Value{
			"dn":              types.StringValue(r.DN),
			"suffix":          types.StringValue(r.Suffix),
			"role":            types.StringValue(r.Role.String()),
			"replica_id":      types.Int64Value(int64(r.ID)),
			"replica_type":    types.Int64Value(int64(r.Type)),
			"flags":           types.Int64Value(int64(r.Flags)),
			"bind_dns":        stringListValue(r.BindDNs),
			"referrals":       stringListValue(r.Referrals),
			"legacy_consumer": types.BoolValue(r.LegacyConsumer),
		})
		diags.Append(objDiags...)
		if objDiags.HasError() {
			return types.ListNull(replicaObjectType)
		}
		values = append(values, obj)
	}

	list, listDiags := types.ListValue(replicaObjectType, values)
	diags.Append(listDiags...)
	return list
}

// stringListValue renders values as a list, empty rather than null when there are none.
func stringListValue(values []string) types.List {
	elems := make([]attr.Value, len(values))
	for i, v := range values {
		elems[i] = types.StringValue(v)
	}
	return types.ListValueMust(types.StringType, elems)
}
