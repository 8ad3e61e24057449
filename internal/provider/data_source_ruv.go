package provider

import (
	"context"
	"fmt"
	"time"

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

var _ datasource.DataSource = &RUVDataSource{}

func NewRUVDataSource() datasource.DataSource {
	return &RUVDataSource{}
}

// RUVDataSource reads the replica update vector of a replicated suffix.
type RUVDataSource struct {
	replicas *ldapclient.ReplicaManager
}

type RUVDataSourceModel struct {
	ID         types.String              `tfsdk:"id"`
	Suffix     customtypes.DNStringValue `tfsdk:"suffix"`
	Generation types.String              `tfsdk:"generation"`
	Replicas   types.List                `tfsdk:"replicas"`
}

var ruvElementObjectType = types.ObjectType{
	AttrTypes: map[string]attr.Type{
		"rid":           types.Int64Type,
		"url":           types.StringType,
		"min_csn":       types.StringType,
		"max_csn":       types.StringType,
		"last_modified": types.StringType,
	},
}

func (d *RUVDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_ruv"
}

func (d *RUVDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads the replica update vector (RUV) of a replicated suffix: the newest change this server " +
			"has seen from every supplier. Compare `max_csn` values across servers to check convergence.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The normalized suffix.",
				Computed:            true,
			},
			"suffix": schema.StringAttribute{
				MarkdownDescription: "The replicated suffix.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
			},
			"generation": schema.StringAttribute{
				MarkdownDescription: "The replica generation. Servers with different generations cannot replicate to each other.",
				Computed:            true,
			},
			"replicas": schema.ListNestedAttribute{
				MarkdownDescription: "One element per replica ID, ordered by `rid`.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"rid": schema.Int64Attribute{
							MarkdownDescription: "The replica ID.",
							Computed:            true,
						},
						"url": schema.StringAttribute{
							MarkdownDescription: "The supplier's LDAP URL.",
							Computed:            true,
						},
						"min_csn": schema.StringAttribute{
							MarkdownDescription: "Oldest CSN seen from the replica; null before its first change.",
							Computed:            true,
						},
						"max_csn": schema.StringAttribute{
							MarkdownDescription: "Newest CSN seen from the replica; null before its first change.",
							Computed:            true,
						},
						"last_modified": schema.StringAttribute{
							MarkdownDescription: "RFC 3339 time of the last change from the replica, when known.",
							Computed:            true,
						},
					},
				},
			},
		},
	}
}

func (d *RUVDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	d.replicas = providerData.Replicas
}

func (d *RUVDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data RUVDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	suffix := data.Suffix.ValueString()
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirsrv_ruv", "read", map[string]any{"suffix": suffix})
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	ruv, err := d.replicas.RUV(ctx, suffix)
	if err != nil {
		summary := "Error Reading RUV"
		if ldapclient.IsNotFoundError(err) {
			summary = "Suffix Is Not Replicated"
		}
		resp.Diagnostics.AddError(summary, fmt.Sprintf("Could not read the RUV of %s: %s", suffix, err.Error()))
		return
	}

	data.ID = types.StringValue(ldapclient.MustNormalizeDN(suffix))
	data.Generation = types.StringValue(ruv.Generation())
	data.Replicas = ruvElementsToList(ruv.Replicas(), &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Read RUV", map[string]any{
		"suffix":     suffix,
		"generation": ruv.Generation(),
		"replicas":   len(ruv.Replicas()),
	})

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func ruvElementsToList(elems []*ldapclient.RUVElement, diags *diag.Diagnostics) types.List {
	values := make([]attr.Value, 0, len(elems))
	for _, elem := range elems {
		lastModified := types.StringNull()
		if !elem.LastModified.IsZero() {
			lastModified = types.StringValue(elem.LastModified.UTC().Format(time.RFC3339))
		}

		obj, objDiags := types.ObjectValue(ruvElementObjectType.AttrTypes, map[string]attr.Value{
			"rid":           types.Int64Value(int64(elem.RID)),
			"url":           types.StringValue(elem.URL),
			"min_csn":       csnOrNull(elem.MinCSN),
			"max_csn":       csnOrNull(elem.MaxCSN),
			"last_modified": lastModified,
		})
		diags.Append(objDiags...)
		if objDiags.HasError() {
			return types.ListNull(ruvElementObjectType)
		}
		values = append(values, obj)
	}

	list, listDiags := types.ListValue(ruvElementObjectType, values)
	diags.Append(listDiags...)
	return list
}

func csnOrNull(csn *ldapclient.CSN) types.String {
	if csn == nil {
		return types.StringNull()
	}
	return helpers.StringOrNull(csn.String())
}
