package provider

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/booldefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/listplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/mapplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-dirsrv/internal/provider/types"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

var _ resource.Resource = &BackendResource{}
var _ resource.ResourceWithImportState = &BackendResource{}
var _ resource.ResourceWithValidateConfig = &BackendResource{}

func NewBackendResource() resource.Resource {
	return &BackendResource{}
}

// BackendResource manages an ldbm or chaining database instance.
type BackendResource struct {
	backends *ldapclient.BackendManager
}

type BackendResourceModel struct {
	ID           types.String              `tfsdk:"id"`
	Name         types.String              `tfsdk:"name"`
	Suffix       customtypes.DNStringValue `tfsdk:"suffix"`
	ReadOnly     types.Bool                `tfsdk:"read_only"`
	FarmURLs     types.List                `tfsdk:"farm_urls"`
	BindDN       customtypes.DNStringValue `tfsdk:"bind_dn"`
	BindPassword types.String              `tfsdk:"bind_password"`
	Attributes   types.Map                 `tfsdk:"attributes"`
	DN           types.String              `tfsdk:"dn"`
	Chaining     types.Bool                `tfsdk:"chaining"`
}

func (r *BackendResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_backend"
}

func (r *BackendResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages a database backend. Setting `farm_urls`, `bind_dn` and `bind_password` " +
			"creates a chaining backend that forwards operations to the farm servers instead of an ldbm database.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The DN of the backend instance entry.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"name": schema.StringAttribute{
				MarkdownDescription: "Backend instance name, e.g. `userRoot`.",
				Required:            true,
				Validators: []validator.String{
					stringvalidator.RegexMatches(backendNameRegex, "must contain only letters, digits, '-' and '_'"),
				},
				PlanModifiers: replaceOnChange,
			},
			"suffix": schema.StringAttribute{
				MarkdownDescription: "Suffix stored in the backend.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
				PlanModifiers: replaceOnChange,
			},
			"read_only": schema.BoolAttribute{
				MarkdownDescription: "Reject writes to the backend. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},
			"farm_urls": schema.ListAttribute{
				MarkdownDescription: "LDAP URLs of the remote servers of a chaining backend.",
				Optional:            true,
				ElementType:         types.StringType,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
					listvalidator.ValueStringsAre(stringvalidator.RegexMatches(ldapURLRegex, "must be an ldap:// or ldaps:// URL")),
					listvalidator.AlsoRequires(path.MatchRoot("bind_dn"), path.MatchRoot("bind_password")),
				},
				PlanModifiers: []planmodifier.List{
					listplanmodifier.RequiresReplace(),
				},
			},
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN a chaining backend binds to the farm servers as.",
				Optional:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
					stringvalidator.AlsoRequires(path.MatchRoot("farm_urls"), path.MatchRoot("bind_password")),
				},
				PlanModifiers: replaceOnChange,
			},
			"bind_password": schema.StringAttribute{
				MarkdownDescription: "Password of `bind_dn`.",
				Optional:            true,
				Sensitive:           true,
				Validators: []validator.String{
					stringvalidator.AlsoRequires(path.MatchRoot("farm_urls"), path.MatchRoot("bind_dn")),
				},
				PlanModifiers: replaceOnChange,
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "Extra attributes of the instance entry, e.g. `{ \"nsslapd-cachememsize\" = [\"209715200\"] }`. Only these are tracked for drift.",
				Optional:            true,
				ElementType:         helpers.AttributeMapType.ElemType,
				PlanModifiers: []planmodifier.Map{
					mapplanmodifier.RequiresReplace(),
				},
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "DN of the backend instance entry.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"chaining": schema.BoolAttribute{
				MarkdownDescription: "Whether this is a chaining backend.",
				Computed:            true,
			},
		},
	}
}

// ValidateConfig rejects extra attributes that collide with managed ones.
func (r *BackendResource) ValidateConfig(ctx context.Context, req resource.ValidateConfigRequest, resp *resource.ValidateConfigResponse) {
	var data BackendResourceModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	for name := range helpers.AttributeMap(ctx, data.Attributes, &resp.Diagnostics) {
		switch strings.ToLower(name) {
		case "cn", "objectclass", "nsslapd-suffix", "nsslapd-readonly", "nsfarmserverurl",
			"nsmultiplexorbinddn", "nsmultiplexorcredentials":
			resp.Diagnostics.AddAttributeError(path.Root("attributes").AtMapKey(name), "Managed Attribute",
				fmt.Sprintf("%s is managed by this resource and cannot be set in attributes.", name))
		}
	}
}

func (r *BackendResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Resource", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	r.backends = providerData.Backends
}

func (r *BackendResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data BackendResourceModel

	ctx, done := trackResource(ctx, "dirsrv_backend", "create", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	createReq := &ldapclient.BackendRequest{
		Name:         data.Name.ValueString(),
		Suffix:       data.Suffix.ValueString(),
		BindDN:       helpers.StringValueOrDefault(data.BindDN.StringValue, ""),
		BindPassword: helpers.StringValueOrDefault(data.BindPassword, ""),
		URLs:         helpers.StringList(ctx, data.FarmURLs, &resp.Diagnostics),
		Attributes:   helpers.AttributeMap(ctx, data.Attributes, &resp.Diagnostics),
	}
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Creating backend", map[string]any{
		"name":     createReq.Name,
		"suffix":   createReq.Suffix,
		"chaining": createReq.IsChaining(),
	})

	backend, err := r.backends.Add(ctx, createReq)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Creating Backend",
			"Could not create backend, unexpected error: "+err.Error(),
		)
		return
	}

	if data.ReadOnly.ValueBool() && !backend.Chaining {
		if err := r.backends.ReadOnly(ctx, backend.Name, true); err != nil {
			resp.Diagnostics.AddError("Error Setting Backend Read-Only", err.Error())
			return
		}
		backend.ReadOnly = true
	}

	r.updateModelFromBackend(ctx, &data, backend, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *BackendResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data BackendResourceModel

	ctx, done := trackResource(ctx, "dirsrv_backend", "read", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	backend, err := r.find(ctx, &data, &resp.Diagnostics)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			resp.State.RemoveResource(ctx)
			return
		}
		resp.Diagnostics.AddError(
			"Error Reading Backend",
			fmt.Sprintf("Could not read backend %s: %s", data.Name.ValueString(), err.Error()),
		)
		return
	}

	r.updateModelFromBackend(ctx, &data, backend, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// find looks the backend up by suffix, which covers ldbm and chaining
// instances, fetching the configured extra attributes along the way.
func (r *BackendResource) find(ctx context.Context, data *BackendResourceModel, diags *diag.Diagnostics) (*ldapclient.Backend, error) {
	attrs := slices.Sorted(maps.Keys(helpers.AttributeMap(ctx, data.Attributes, diags)))

	backends, err := r.backends.List(ctx, "", data.Suffix.ValueString(), attrs)
	if err != nil {
		return nil, err
	}
	for _, b := range backends {
		if strings.EqualFold(b.Name, data.Name.ValueString()) {
			return b, nil
		}
	}
	return nil, ldapclient.NewNoSuchEntryError("get_backend", data.Name.ValueString())
}

func (r *BackendResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var data, state BackendResourceModel

	ctx, done := trackResource(ctx, "dirsrv_backend", "update", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if !data.ReadOnly.Equal(state.ReadOnly) {
		if state.Chaining.ValueBool() {
			resp.Diagnostics.AddAttributeError(path.Root("read_only"), "Unsupported For Chaining Backends",
				"read_only can only be changed on ldbm backends.")
			return
		}
		tflog.Debug(ctx, "Changing backend read-only mode", map[string]any{
			"name":      state.Name.ValueString(),
			"read_only": data.ReadOnly.ValueBool(),
		})
		if err := r.backends.ReadOnly(ctx, state.Name.ValueString(), data.ReadOnly.ValueBool()); err != nil {
			resp.Diagnostics.AddError("Error Updating Backend", err.Error())
			return
		}
	}

	backend, err := r.find(ctx, &data, &resp.Diagnostics)
	if err != nil {
		resp.Diagnostics.AddError("Error Reading Backend", err.Error())
		return
	}

	r.updateModelFromBackend(ctx, &data, backend, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *BackendResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data BackendResourceModel

	ctx, done := trackResource(ctx, "dirsrv_backend", "delete", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Deleting backend", map[string]any{"name": data.Name.ValueString()})

	err := r.backends.Delete(ctx, data.Name.ValueString(), data.Chaining.ValueBool())
	if err != nil && !ldapclient.IsNotFoundError(err) {
		resp.Diagnostics.AddError(
			"Error Deleting Backend",
			"Could not delete backend, unexpected error: "+err.Error(),
		)
	}
}

// ImportState accepts the name of an ldbm backend.
func (r *BackendResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	name := strings.TrimSpace(req.ID)

	backend, err := r.backends.Get(ctx, name)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Importing Backend",
			fmt.Sprintf("Could not import backend %s: %s", name, err.Error()),
		)
		return
	}

	data := BackendResourceModel{
		Attributes:   types.MapNull(helpers.AttributeMapType.ElemType),
		BindPassword: types.StringNull(),
	}
	r.updateModelFromBackend(ctx, &data, backend, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *BackendResource) updateModelFromBackend(ctx context.Context, model *BackendResourceModel, b *ldapclient.Backend, diags *diag.Diagnostics) {
	model.ID = types.StringValue(b.DN)
	model.DN = types.StringValue(b.DN)
	model.Name = types.StringValue(b.Name)
	model.ReadOnly = types.BoolValue(b.ReadOnly)
	model.Chaining = types.BoolValue(b.Chaining)
	model.FarmURLs = helpers.ListOrNull(b.FarmURLs)

	model.Suffix = model.Suffix.Reconcile(b.Suffix)
	model.BindDN = model.BindDN.Reconcile(b.BindDN)

	if model.Attributes.IsNull() || model.Attributes.IsUnknown() {
		return
	}
	tracked := make(map[string][]string)
	for name := range helpers.AttributeMap(ctx, model.Attributes, diags) {
		for attr, values := range b.Attributes {
			if strings.EqualFold(attr, name) {
				tracked[name] = values
			}
		}
	}
	model.Attributes = helpers.AttributeMapValue(tracked)
}
