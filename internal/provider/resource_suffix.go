package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-dirsrv/internal/provider/types"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

var _ resource.Resource = &SuffixResource{}
var _ resource.ResourceWithImportState = &SuffixResource{}

func NewSuffixResource() resource.Resource {
	return &SuffixResource{}
}

// SuffixResource manages a mapping tree entry routing a suffix to a backend.
type SuffixResource struct {
	mappingTree *ldapclient.MappingTreeManager
}

type SuffixResourceModel struct {
	ID           types.String              `tfsdk:"id"`
	Suffix       customtypes.DNStringValue `tfsdk:"suffix"`
	Backend      types.String              `tfsdk:"backend"`
	ParentSuffix customtypes.DNStringValue `tfsdk:"parent_suffix"`
	DN           types.String              `tfsdk:"dn"`
	State        types.String              `tfsdk:"state"`
}

func (r *SuffixResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_suffix"
}

func (r *SuffixResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages the mapping tree entry that routes a suffix to a backend. " +
			"Create the backend first (see `dirsrv_backend`).",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The normalized suffix.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"suffix": schema.StringAttribute{
				MarkdownDescription: "The suffix, e.g. `dc=example,dc=com`.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
				PlanModifiers: replaceOnChange,
			},
			"backend": schema.StringAttribute{
				MarkdownDescription: "Name of the backend holding the suffix.",
				Required:            true,
				Validators: []validator.String{
					stringvalidator.RegexMatches(backendNameRegex, "must contain only letters, digits, '-' and '_'"),
				},
				PlanModifiers: replaceOnChange,
			},
			"parent_suffix": schema.StringAttribute{
				MarkdownDescription: "Parent suffix when this is a sub-suffix.",
				Optional:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
				PlanModifiers: replaceOnChange,
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "DN of the mapping tree entry.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"state": schema.StringAttribute{
				MarkdownDescription: "`nsslapd-state` of the entry, `backend` once created.",
				Computed:            true,
				PlanModifiers: keepState,
			},
		},
	}
}

func (r *SuffixResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Resource", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	r.mappingTree = providerData.MappingTree
}

func (r *SuffixResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data SuffixResourceModel

	ctx, done := trackResource(ctx, "dirsrv_suffix", "create", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Creating suffix", map[string]any{
		"suffix":  data.Suffix.ValueString(),
		"backend": data.Backend.ValueString(),
	})

	mt, err := r.mappingTree.Add(ctx,
		data.Suffix.ValueString(),
		data.Backend.ValueString(),
		helpers.StringValueOrDefault(data.ParentSuffix.StringValue, ""),
	)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Creating Suffix",
			"Could not create mapping tree entry, unexpected error: "+err.Error(),
		)
		return
	}

	updateModelFromMappingTree(&data, mt)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *SuffixResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data SuffixResourceModel

	ctx, done := trackResource(ctx, "dirsrv_suffix", "read", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	mt, err := r.mappingTree.Get(ctx, data.Suffix.ValueString())
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			resp.State.RemoveResource(ctx)
			return
		}
		resp.Diagnostics.AddError(
			"Error Reading Suffix",
			fmt.Sprintf("Could not read mapping tree entry of %s: %s", data.Suffix.ValueString(), err.Error()),
		)
		return
	}

	updateModelFromMappingTree(&data, mt)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// Update is never called with a change: every configurable attribute forces replacement.
func (r *SuffixResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var data SuffixResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *SuffixResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data SuffixResourceModel

	ctx, done := trackResource(ctx, "dirsrv_suffix", "delete", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if err := r.mappingTree.Delete(ctx, data.Suffix.ValueString()); err != nil && !ldapclient.IsNotFoundError(err) {
		resp.Diagnostics.AddError(
			"Error Deleting Suffix",
			"Could not delete mapping tree entry, unexpected error: "+err.Error(),
		)
	}
}

// ImportState accepts the suffix in any spelling.
func (r *SuffixResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	suffix := strings.TrimSpace(req.ID)

	mt, err := r.mappingTree.Get(ctx, suffix)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Importing Suffix",
			fmt.Sprintf("Could not import mapping tree entry of %s: %s", suffix, err.Error()),
		)
		return
	}

	data := SuffixResourceModel{Suffix: customtypes.DNString(suffix)}
	updateModelFromMappingTree(&data, mt)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func updateModelFromMappingTree(model *SuffixResourceModel, mt *ldapclient.MappingTree) {
	model.ID = types.StringValue(ldapclient.MustNormalizeDN(mt.Suffix))
	model.DN = types.StringValue(mt.DN)
	model.State = types.StringValue(mt.State)

	model.Suffix = model.Suffix.Reconcile(mt.Suffix)
	if len(mt.Backends) > 0 {
		model.Backend = types.StringValue(mt.Backends[0])
	}
	model.ParentSuffix = model.ParentSuffix.Reconcile(mt.ParentSuffix)
}
